package corpus

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"sibyl/internal/domain"
)

// MemoryStore keeps all metadata in maps. The default for database-less
// runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[string]domain.Document
	sources map[string]domain.WebsiteSource
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    make(map[string]domain.Document),
		sources: make(map[string]domain.WebsiteSource),
	}
}

func (s *MemoryStore) PutDocument(ctx context.Context, doc domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	return nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]domain.Document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].IngestedAt.Equal(docs[j].IngestedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].IngestedAt.After(docs[j].IngestedAt)
	})
	return docs, nil
}

func (s *MemoryStore) PutWebsiteSource(ctx context.Context, src domain.WebsiteSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.ID] = src
	return nil
}

func (s *MemoryStore) GetWebsiteSource(ctx context.Context, id string) (*domain.WebsiteSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, ok := s.sources[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &src, nil
}

func (s *MemoryStore) ListWebsiteSources(ctx context.Context) ([]domain.WebsiteSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sources := make([]domain.WebsiteSource, 0, len(s.sources))
	for _, src := range s.sources {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].ScrapedAt.Equal(sources[j].ScrapedAt) {
			return sources[i].ID < sources[j].ID
		}
		return sources[i].ScrapedAt.After(sources[j].ScrapedAt)
	})
	return sources, nil
}

func (s *MemoryStore) DeleteWebsiteSources(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, d := range s.docs {
		if d.Origin == domain.OriginWebsite {
			removed = append(removed, id)
			delete(s.docs, id)
		}
	}
	s.sources = make(map[string]domain.WebsiteSource)
	sort.Strings(removed)
	return removed, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (domain.CorpusStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.CorpusStats{TotalDocuments: len(s.docs)}
	for _, d := range s.docs {
		stats.TotalChunks += d.ChunkCount
	}
	return stats, nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string]domain.Document)
	s.sources = make(map[string]domain.WebsiteSource)
	return nil
}
