// Package session keeps the in-progress dialogue state of each requester.
//
// The store lives in process memory: a restart drops every open dialogue and
// requesters simply run the command again. Running more than one process
// against the same Slack app needs a shared store; the lockfile taken by the
// server only protects a single state directory.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/normalize"
)

// Session is one requester's dialogue.
type Session struct {
	RequesterID string
	ChannelID   string
	ThreadID    string
	Flow        *flow.Runtime
	Index       int
	Answers     map[string]normalize.Value
	PeopleHint  string
	Nudged      bool
	StartedAt   time.Time

	locked map[string]bool
}

// New creates a session positioned at the first question.
func New(requesterID, channelID string, rt *flow.Runtime) *Session {
	return &Session{
		RequesterID: requesterID,
		ChannelID:   channelID,
		Flow:        rt,
		Answers:     make(map[string]normalize.Value),
		StartedAt:   time.Now(),
		locked:      make(map[string]bool),
	}
}

// Current returns the pending question.
func (s *Session) Current() (flow.Question, bool) {
	return s.Flow.Question(s.Index)
}

// SetThread assigns the thread once. Later calls are ignored.
func (s *Session) SetThread(threadID string) {
	if s.ThreadID == "" {
		s.ThreadID = threadID
	}
}

// Record stores an answer. Answers to a selector are frozen once the
// variant they chose is active; Record reports false for those.
func (s *Session) Record(key string, v normalize.Value) bool {
	if s.locked[key] {
		return false
	}
	s.Answers[key] = v
	return true
}

// Forget drops an unlocked answer.
func (s *Session) Forget(key string) {
	if !s.locked[key] {
		delete(s.Answers, key)
	}
}

// Advance moves to the next question and reports whether one remains.
func (s *Session) Advance() bool {
	s.Index++
	return s.Index < s.Flow.Len()
}

// SwitchFlow replaces the active flow with a variant, locks the selector
// answer and restarts at the variant's first question.
func (s *Session) SwitchFlow(rt *flow.Runtime, selectorKey string) {
	s.locked[selectorKey] = true
	s.Flow = rt
	s.Index = 0
}

// Done reports whether every question has been answered.
func (s *Session) Done() bool {
	return s.Index >= s.Flow.Len()
}

// Store is the requester -> session mapping.
type Store interface {
	Get(requesterID string) (*Session, bool)
	Put(s *Session)
	Insert(s *Session) error
	Remove(requesterID string)
	Len() int
}

// InMemoryStore is a mutex-guarded Store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*Session)}
}

func (m *InMemoryStore) Get(requesterID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[requesterID]
	return s, ok
}

func (m *InMemoryStore) Put(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.RequesterID] = s
	slog.Debug("SessionStore.Put", "requester", s.RequesterID, "flow", s.Flow.Key)
}

// Insert adds s unless the requester already has a session. The check and
// insert happen under one lock.
func (m *InMemoryStore) Insert(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.RequesterID]; exists {
		return fmt.Errorf("requester %s: %w", s.RequesterID, models.ErrAlreadyActive)
	}
	m.sessions[s.RequesterID] = s
	slog.Debug("SessionStore.Insert", "requester", s.RequesterID, "flow", s.Flow.Key)
	return nil
}

func (m *InMemoryStore) Remove(requesterID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, requesterID)
	slog.Debug("SessionStore.Remove", "requester", requesterID)
}

func (m *InMemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
