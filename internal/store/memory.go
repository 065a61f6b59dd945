package store

import (
	"sync"
	"time"
)

// InMemoryStore keeps the event log in process memory.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]DedupRecord
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]DedupRecord)}
}

func (s *InMemoryStore) RecordInbound(eventID, requesterID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[eventID]; ok {
		return false, nil
	}
	s.records[eventID] = DedupRecord{EventID: eventID, RequesterID: requesterID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[eventID]; ok {
		now := time.Now()
		r.ProcessedAt = &now
		s.records[eventID] = r
	}
	return nil
}

func (s *InMemoryStore) Prune(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.records {
		if r.ReceivedAt.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
