package verdictcache

import (
	"context"
	"sync"
)

// MemoryStore keeps verdicts for the life of the process.
type MemoryStore struct {
	mu       sync.Mutex
	verdicts map[string]Verdict
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{verdicts: map[string]Verdict{}}
}

func (s *MemoryStore) Load(_ context.Context, key string) (Verdict, bool, error) {
	if s == nil {
		return Verdict{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	verdict, ok := s.verdicts[key]
	return verdict, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, verdict Verdict) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts[key] = verdict
	return nil
}
