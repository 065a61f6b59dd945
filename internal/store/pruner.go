package store

import (
	"context"
	"log/slog"
	"time"
)

// Pruner periodically drops dedup records older than the retention window.
// Slack retries a delivery for about an hour, so a day of history is plenty.
type Pruner struct {
	repo      DedupRepo
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewPruner creates a new Pruner.
func NewPruner(repo DedupRepo, interval, retention time.Duration) *Pruner {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Pruner{repo: repo, interval: interval, retention: retention, now: time.Now}
}

// Run starts the pruning loop. It blocks until the context is cancelled.
func (p *Pruner) Run(ctx context.Context) {
	slog.Info("Pruner.Run: starting dedup pruner", "interval", p.interval, "retention", p.retention)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Pruner.Run: stopping")
			return
		case <-ticker.C:
			p.PruneOnce()
		}
	}
}

// PruneOnce runs a single pruning pass and returns the number of deleted rows.
func (p *Pruner) PruneOnce() int64 {
	cutoff := p.now().Add(-p.retention)
	n, err := p.repo.Prune(cutoff)
	if err != nil {
		slog.Error("Pruner.PruneOnce: prune failed", "error", err)
		return 0
	}
	if n > 0 {
		slog.Debug("Pruner.PruneOnce: pruned dedup records", "count", n, "cutoff", cutoff)
	}
	return n
}
