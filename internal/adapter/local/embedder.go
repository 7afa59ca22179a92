package local

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"sibyl/internal/vector"
)

// Dim is the dimension of locally generated embeddings.
const Dim = 32

// Embedder maps text to a fixed 32-dimensional vector by hashing tokens
// into buckets. Not semantic, but deterministic and key-free: texts that
// share words land near each other, which is enough for development and
// tests.
type Embedder struct{}

func NewEmbedder() *Embedder {
	return &Embedder{}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, Dim)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		// Top bit picks the sign so buckets can cancel, which spreads
		// the vectors out more than pure counts would.
		weight := float32(1)
		if sum&0x80000000 != 0 {
			weight = -1
		}
		vec[sum%Dim] += weight
	}
	return vector.Normalize(vec), nil
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
