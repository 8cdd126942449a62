package ban

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Expired records are dropped the next
// time they are read, or by Sweep.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates an empty MemoryStore that reads time from now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		now:     now,
	}
}

func (s *MemoryStore) Get(_ context.Context, identity string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[identity]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(rec.Until) {
		delete(s.records, identity)
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Put(_ context.Context, identity string, rec Record) error {
	s.mu.Lock()
	s.records[identity] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, identity string) error {
	s.mu.Lock()
	delete(s.records, identity)
	s.mu.Unlock()
	return nil
}

// Sweep removes every lapsed record and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, rec := range s.records {
		if !now.Before(rec.Until) {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}
