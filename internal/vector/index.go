package vector

import (
	"context"
	"math"
)

// Entry is one embedded chunk as the index stores it.
type Entry struct {
	ChunkID    string
	DocumentID string
	Vector     []float32
	Text       string
	Title      string
	URI        string
	Seq        int
}

// Hit is one query match. Score is cosine similarity in [-1, 1].
type Hit struct {
	Entry Entry
	Score float64
}

// Index abstracts the vector backend. All implementations must make Upsert
// idempotent by ChunkID and support deleting one document's chunks as a unit.
type Index interface {
	Upsert(ctx context.Context, entries []Entry) error
	Query(ctx context.Context, vector []float32, k int) ([]Hit, error)
	DeleteByDocument(ctx context.Context, documentID string) error
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// Normalize returns a unit-length copy of v. A zero vector comes back as a
// zero copy, so dot products against it score 0 instead of NaN.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Dot computes the inner product. Over normalized vectors this is cosine
// similarity.
func Dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
