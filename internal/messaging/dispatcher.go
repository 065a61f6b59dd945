package messaging

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Dispatcher defaults.
const (
	DefaultWorkers   = 8
	DefaultQueueSize = 64
)

// ErrDispatcherClosed is returned by Submit after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Task is one unit of inbound work. log carries the task's correlation id.
type Task func(ctx context.Context, log *slog.Logger)

type queued struct {
	ctx  context.Context
	log  *slog.Logger
	task Task
}

// Dispatcher runs tasks on a fixed set of shard workers. Tasks with the same
// key always land on the same shard, so one requester's events run in
// submission order while different requesters proceed in parallel.
type Dispatcher struct {
	shards []chan queued
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	inline bool
}

// NewDispatcher starts workers shard goroutines with the given queue depth.
func NewDispatcher(workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{shards: make([]chan queued, workers)}
	for i := range d.shards {
		ch := make(chan queued, queueSize)
		d.shards[i] = ch
		d.wg.Add(1)
		go d.work(i, ch)
	}
	slog.Debug("Dispatcher: started", "workers", workers, "queue", queueSize)
	return d
}

// NewInlineDispatcher runs every task on the submitting goroutine. Used where
// the process may be frozen once the response is written (AWS Lambda).
func NewInlineDispatcher() *Dispatcher {
	return &Dispatcher{inline: true}
}

// Submit queues task under key. The task's context is detached from ctx's
// cancellation so work outlives the HTTP request that delivered it.
func (d *Dispatcher) Submit(ctx context.Context, key string, task Task) error {
	log := slog.With("correlation_id", uuid.NewString(), "key", key)
	runCtx := context.WithoutCancel(ctx)

	if d.inline {
		d.run(queued{ctx: runCtx, log: log, task: task})
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	d.shards[d.shardFor(key)] <- queued{ctx: runCtx, log: log, task: task}
	return nil
}

// Close stops accepting tasks and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	if d.inline {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ch := range d.shards {
		close(ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
	slog.Debug("Dispatcher: stopped")
}

func (d *Dispatcher) shardFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.shards)))
}

func (d *Dispatcher) work(id int, ch <-chan queued) {
	defer d.wg.Done()
	for q := range ch {
		d.run(q)
	}
	slog.Debug("Dispatcher.work: shard drained", "shard", id)
}

func (d *Dispatcher) run(q queued) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("Dispatcher: task panicked", "panic", r)
		}
	}()
	q.task(q.ctx, q.log)
}
