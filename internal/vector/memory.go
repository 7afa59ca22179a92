package vector

import (
	"context"
	"sort"
	"sync"
)

// MemoryIndex is the in-process backend: exact brute-force cosine scan over
// normalized vectors. Ties rank by insertion order, a batch becomes visible
// atomically, and re-upserting a ChunkID replaces it in place. It is the
// default backend and the reference for the deterministic ranking behavior
// the external engines approximate.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries []Entry
	pos     map[string]int
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{pos: make(map[string]int)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		e.Vector = Normalize(e.Vector)
		if i, ok := m.pos[e.ChunkID]; ok {
			m.entries[i] = e
			continue
		}
		m.pos[e.ChunkID] = len(m.entries)
		m.entries = append(m.entries, e)
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	q := Normalize(vector)
	hits := make([]Hit, 0, len(m.entries))
	for _, e := range m.entries {
		hits = append(hits, Hit{Entry: e, Score: Dot(q, e.Vector)})
	}

	// Stable sort keeps insertion order for equal scores.
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.DocumentID != documentID {
			kept = append(kept, e)
		}
	}
	m.entries = kept

	m.pos = make(map[string]int, len(m.entries))
	for i, e := range m.entries {
		m.pos[e.ChunkID] = i
	}
	return nil
}

func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *MemoryIndex) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	m.pos = make(map[string]int)
	return nil
}
