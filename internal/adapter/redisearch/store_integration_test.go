package redisearch_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sibyl/internal/adapter/redisearch"
	"sibyl/internal/testutils"
	"sibyl/internal/vector"
)

func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	store := redisearch.NewStore(s.Redis, 3)
	ctx := context.Background()

	require.NoError(t, store.EnsureIndex(ctx))
	// Creating an existing index is a no-op.
	require.NoError(t, store.EnsureIndex(ctx))

	entries := []vector.Entry{
		{
			ChunkID:    "11111111-1111-1111-1111-111111111111",
			DocumentID: "doc-1",
			Vector:     []float32{1, 0, 0},
			Text:       "Postgres stores relational data",
			Title:      "Databases",
			URI:        "https://example.com/db",
			Seq:        0,
		},
		{
			ChunkID:    "22222222-2222-2222-2222-222222222222",
			DocumentID: "doc-1",
			Vector:     []float32{0, 1, 0},
			Text:       "Indexes speed up lookups",
			Title:      "Databases",
			URI:        "https://example.com/db",
			Seq:        1,
		},
		{
			ChunkID:    "33333333-3333-3333-3333-333333333333",
			DocumentID: "doc-2",
			Vector:     []float32{0, 0, 1},
			Text:       "Goroutines are lightweight threads",
			Title:      "Concurrency",
			URI:        "https://example.com/go",
			Seq:        0,
		},
	}
	require.NoError(t, store.Upsert(ctx, entries))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	hits, err := store.Query(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", hits[0].Entry.ChunkID)
	assert.Equal(t, "doc-1", hits[0].Entry.DocumentID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-3)
	assert.Greater(t, hits[0].Score, hits[1].Score)

	// Re-upserting a chunk id overwrites the hash in place.
	entries[0].Text = "Postgres stores rows in tables"
	require.NoError(t, store.Upsert(ctx, entries[:1]))

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	hits, err = store.Query(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Postgres stores rows in tables", hits[0].Entry.Text)

	require.NoError(t, store.DeleteByDocument(ctx, "doc-1"))

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, store.Clear(ctx))

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
