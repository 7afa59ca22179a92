package settings

import (
	"context"
	"sync"
)

// MemoryRepo backs the settings service for database-less runs.
type MemoryRepo struct {
	mu sync.RWMutex
	s  Settings
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{s: Settings{ID: 1, SearchTopK: 5, ScoreThreshold: 0}}
}

func (r *MemoryRepo) Get(ctx context.Context) (*Settings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.s
	return &s, nil
}

func (r *MemoryRepo) Update(ctx context.Context, s *Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s = *s
	r.s.ID = 1
	return nil
}
