package corpus_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sibyl/internal/corpus"
	"sibyl/internal/domain"
	"sibyl/internal/vector"
)

func newManager() (*corpus.Manager, *corpus.MemoryStore, *vector.MemoryIndex) {
	store := corpus.NewMemoryStore()
	index := vector.NewMemoryIndex()
	return corpus.NewManager(store, index), store, index
}

func TestManager_CommitDocument(t *testing.T) {
	m, _, index := newManager()
	ctx := context.Background()

	doc := domain.Document{ID: "d1", Origin: domain.OriginUpload, SourceURI: "notes.txt", Title: "Notes", IngestedAt: day(1)}
	chunks := []domain.Chunk{
		{ID: "c1", DocumentID: "d1", Seq: 0, Text: "first part", Vector: []float32{1, 0}},
		{ID: "c2", DocumentID: "d1", Seq: 1, Text: "second part", Vector: []float32{0, 1}},
	}

	require.NoError(t, m.CommitDocument(ctx, doc, chunks))

	count, err := m.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalDocuments)
	assert.Equal(t, 2, stats.TotalChunks)

	// Metadata rides along into the index entries.
	hits, err := m.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].Entry.ChunkID)
	assert.Equal(t, "Notes", hits[0].Entry.Title)
	assert.Equal(t, "notes.txt", hits[0].Entry.URI)

	// Re-committing the document replaces its whole batch.
	require.NoError(t, m.CommitDocument(ctx, doc, chunks[:1]))

	count, err = index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stats, err = m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalDocuments)
	assert.Equal(t, 1, stats.TotalChunks, "chunk count tracks the committed batch")
}

func TestManager_ClearAll(t *testing.T) {
	m, _, _ := newManager()
	ctx := context.Background()

	require.NoError(t, m.CommitDocument(ctx,
		domain.Document{ID: "d1", Origin: domain.OriginUpload, IngestedAt: day(1)},
		[]domain.Chunk{{ID: "c1", DocumentID: "d1", Vector: []float32{1, 0}}}))
	require.NoError(t, m.PutWebsiteSource(ctx, domain.WebsiteSource{ID: "s1", ScrapedAt: day(1)}))

	require.NoError(t, m.ClearAll(ctx))

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalDocuments)
	assert.Equal(t, 0, stats.TotalChunks)

	count, err := m.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	sources, err := m.ListWebsiteSources(ctx)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

// lyingIndex reports leftover entries after Clear, the failure mode of an
// external backend that dropped the delete.
type lyingIndex struct {
	vector.Index
}

func (l *lyingIndex) Clear(ctx context.Context) error       { return nil }
func (l *lyingIndex) Count(ctx context.Context) (int, error) { return 3, nil }

func TestManager_ClearAll_InconsistentIndex(t *testing.T) {
	m := corpus.NewManager(corpus.NewMemoryStore(), &lyingIndex{})

	err := m.ClearAll(context.Background())
	require.Error(t, err)

	var consistency *domain.IndexConsistencyError
	require.ErrorAs(t, err, &consistency)
	assert.Equal(t, 3, consistency.IndexChunks)
}

func TestManager_ClearWebsites(t *testing.T) {
	m, _, index := newManager()
	ctx := context.Background()

	require.NoError(t, m.CommitDocument(ctx,
		domain.Document{ID: "page-1", Origin: domain.OriginWebsite, WebsiteID: "s1", IngestedAt: day(1)},
		[]domain.Chunk{{ID: "pc1", DocumentID: "page-1", Vector: []float32{1, 0}}}))
	require.NoError(t, m.CommitDocument(ctx,
		domain.Document{ID: "file-1", Origin: domain.OriginUpload, IngestedAt: day(1)},
		[]domain.Chunk{{ID: "fc1", DocumentID: "file-1", Vector: []float32{0, 1}}}))
	require.NoError(t, m.PutWebsiteSource(ctx, domain.WebsiteSource{ID: "s1", ScrapedAt: day(1)}))

	require.NoError(t, m.ClearWebsites(ctx))

	// The uploaded document and its chunks survive.
	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalDocuments)

	count, err := index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	hits, err := m.Query(ctx, []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "fc1", hits[0].Entry.ChunkID)

	sources, err := m.ListWebsiteSources(ctx)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

// stuckIndex refuses per-document deletes, the failure mode of an external
// backend that is unreachable mid-clear.
type stuckIndex struct {
	vector.Index
}

func (s *stuckIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	return errors.New("backend unreachable")
}

func TestManager_ClearWebsites_IndexFailureKeepsRecords(t *testing.T) {
	store := corpus.NewMemoryStore()
	m := corpus.NewManager(store, &stuckIndex{Index: vector.NewMemoryIndex()})
	ctx := context.Background()

	require.NoError(t, store.PutDocument(ctx,
		domain.Document{ID: "page-1", Origin: domain.OriginWebsite, WebsiteID: "s1", IngestedAt: day(1)}))
	require.NoError(t, m.PutWebsiteSource(ctx, domain.WebsiteSource{ID: "s1", ScrapedAt: day(1)}))

	require.Error(t, m.ClearWebsites(ctx))

	// The metadata rows must survive so the clear can be retried; deleting
	// them first would orphan the vectors still sitting in the index.
	docs, err := m.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	sources, err := m.ListWebsiteSources(ctx)
	require.NoError(t, err)
	assert.Len(t, sources, 1)
}
