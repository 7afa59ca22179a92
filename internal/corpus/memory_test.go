package corpus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sibyl/internal/corpus"
	"sibyl/internal/domain"
)

func day(n int) time.Time {
	return time.Date(2025, time.March, n, 0, 0, 0, 0, time.UTC)
}

func TestMemoryStore_Documents(t *testing.T) {
	store := corpus.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.PutDocument(ctx, domain.Document{ID: "d1", Origin: domain.OriginUpload, Title: "First", ChunkCount: 2, IngestedAt: day(1)}))
	require.NoError(t, store.PutDocument(ctx, domain.Document{ID: "d2", Origin: domain.OriginWebsite, Title: "Second", ChunkCount: 3, IngestedAt: day(2)}))

	docs, err := store.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "d2", docs[0].ID, "newest first")

	// Upsert by id replaces the record.
	require.NoError(t, store.PutDocument(ctx, domain.Document{ID: "d1", Origin: domain.OriginUpload, Title: "First Revised", ChunkCount: 5, IngestedAt: day(3)}))

	docs, err = store.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "First Revised", docs[0].Title)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalDocuments)
	assert.Equal(t, 8, stats.TotalChunks)

	require.NoError(t, store.DeleteDocument(ctx, "d1"))
	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalDocuments)
	assert.Equal(t, 3, stats.TotalChunks)
}

func TestMemoryStore_WebsiteSources(t *testing.T) {
	store := corpus.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.PutWebsiteSource(ctx, domain.WebsiteSource{ID: "s1", RootURL: "https://a.example.com", Domain: "a.example.com", ScrapedAt: day(1)}))
	require.NoError(t, store.PutWebsiteSource(ctx, domain.WebsiteSource{ID: "s2", RootURL: "https://b.example.com", Domain: "b.example.com", Exclusions: []string{".*admin.*"}, ScrapedAt: day(2)}))

	src, err := store.GetWebsiteSource(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, "https://b.example.com", src.RootURL)
	assert.Equal(t, []string{".*admin.*"}, src.Exclusions)

	_, err = store.GetWebsiteSource(ctx, "missing")
	assert.Error(t, err)

	sources, err := store.ListWebsiteSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "s2", sources[0].ID, "newest first")
}

func TestMemoryStore_DeleteWebsiteSources(t *testing.T) {
	store := corpus.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.PutDocument(ctx, domain.Document{ID: "page-1", Origin: domain.OriginWebsite, WebsiteID: "s1", ChunkCount: 1, IngestedAt: day(1)}))
	require.NoError(t, store.PutDocument(ctx, domain.Document{ID: "page-2", Origin: domain.OriginWebsite, WebsiteID: "s1", ChunkCount: 2, IngestedAt: day(1)}))
	require.NoError(t, store.PutDocument(ctx, domain.Document{ID: "file-1", Origin: domain.OriginUpload, ChunkCount: 4, IngestedAt: day(1)}))
	require.NoError(t, store.PutWebsiteSource(ctx, domain.WebsiteSource{ID: "s1", ScrapedAt: day(1)}))

	removed, err := store.DeleteWebsiteSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"page-1", "page-2"}, removed)

	docs, err := store.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "file-1", docs[0].ID)

	sources, err := store.ListWebsiteSources(ctx)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestMemoryStore_Clear(t *testing.T) {
	store := corpus.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.PutDocument(ctx, domain.Document{ID: "d1", ChunkCount: 2, IngestedAt: day(1)}))
	require.NoError(t, store.PutWebsiteSource(ctx, domain.WebsiteSource{ID: "s1", ScrapedAt: day(1)}))

	require.NoError(t, store.Clear(ctx))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalDocuments)
	assert.Equal(t, 0, stats.TotalChunks)

	sources, err := store.ListWebsiteSources(ctx)
	require.NoError(t, err)
	assert.Empty(t, sources)
}
