package corpus

import (
	"context"
	"fmt"
	"sync"

	"sibyl/internal/domain"
	"sibyl/internal/vector"
)

// Manager is the only way the rest of the system touches the corpus. It
// holds one metadata store and one vector index behind a single RWMutex, so
// a query never sees a document whose chunks are only partially committed
// and a clear empties both sides before any reader proceeds.
type Manager struct {
	mu    sync.RWMutex
	store Store
	index vector.Index
}

func NewManager(store Store, index vector.Index) *Manager {
	return &Manager{store: store, index: index}
}

// CommitDocument replaces the document's chunks in the index and upserts its
// metadata as one atomic step. ChunkCount on the stored record always equals
// the size of the committed batch.
func (m *Manager) CommitDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.index.DeleteByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("drop previous chunks: %w", err)
	}

	entries := make([]vector.Entry, 0, len(chunks))
	for _, c := range chunks {
		entries = append(entries, vector.Entry{
			ChunkID:    c.ID,
			DocumentID: doc.ID,
			Vector:     c.Vector,
			Text:       c.Text,
			Title:      doc.Title,
			URI:        doc.SourceURI,
			Seq:        c.Seq,
		})
	}
	if err := m.index.Upsert(ctx, entries); err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}

	doc.ChunkCount = len(chunks)
	if err := m.store.PutDocument(ctx, doc); err != nil {
		return fmt.Errorf("store document: %w", err)
	}
	return nil
}

// PutWebsiteSource records crawl results for a site.
func (m *Manager) PutWebsiteSource(ctx context.Context, src domain.WebsiteSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.PutWebsiteSource(ctx, src)
}

// ClearAll empties the index and then the metadata store. Readers blocked on
// the lock observe either the full corpus or none of it. A non-zero index
// count after Clear means an external backend failed silently; that surfaces
// as an IndexConsistencyError.
func (m *Manager) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.index.Clear(ctx); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}

	left, err := m.index.Count(ctx)
	if err != nil {
		return fmt.Errorf("verify clear: %w", err)
	}
	if left > 0 {
		return &domain.IndexConsistencyError{MetaChunks: 0, IndexChunks: left}
	}
	return nil
}

// ClearWebsites removes website-origin documents, their chunks, and all
// website sources. Uploaded documents stay. Chunks leave the index before
// their metadata rows; an index failure aborts with the records still in
// place, so the clear can be retried.
func (m *Manager) ClearWebsites(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs, err := m.store.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	for _, d := range docs {
		if d.Origin != domain.OriginWebsite {
			continue
		}
		if err := m.index.DeleteByDocument(ctx, d.ID); err != nil {
			return fmt.Errorf("drop chunks of %s: %w", d.ID, err)
		}
	}

	if _, err := m.store.DeleteWebsiteSources(ctx); err != nil {
		return fmt.Errorf("delete website sources: %w", err)
	}
	return nil
}

func (m *Manager) Query(ctx context.Context, vec []float32, k int) ([]vector.Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index.Query(ctx, vec, k)
}

func (m *Manager) Stats(ctx context.Context) (domain.CorpusStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.Stats(ctx)
}

func (m *Manager) CountChunks(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index.Count(ctx)
}

func (m *Manager) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.ListDocuments(ctx)
}

func (m *Manager) GetWebsiteSource(ctx context.Context, id string) (*domain.WebsiteSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.GetWebsiteSource(ctx, id)
}

func (m *Manager) ListWebsiteSources(ctx context.Context) ([]domain.WebsiteSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.ListWebsiteSources(ctx)
}
