package retrieval

import (
	"context"
	"strings"
	"time"

	"sibyl/internal/domain"
	"sibyl/internal/middleware"
	"sibyl/internal/settings"
	"sibyl/internal/vector"
)

// Options narrows one retrieval call. Nil fields fall back to the runtime
// settings row.
type Options struct {
	Limit     *int
	Threshold *float64
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the read side of the corpus manager.
type Index interface {
	Query(ctx context.Context, vector []float32, k int) ([]vector.Hit, error)
}

type Service struct {
	embedder Embedder
	index    Index
	settings *settings.Service
	logger   *QueryLogger
}

func NewService(e Embedder, idx Index, set *settings.Service, l *QueryLogger) *Service {
	return &Service{embedder: e, index: idx, settings: set, logger: l}
}

// Retrieve embeds the query and returns the most similar chunks, highest
// score first. Hits below the score threshold are dropped, so fewer than
// limit results, including none, is a normal outcome rather than an error.
func (s *Service) Retrieve(ctx context.Context, query string, opts *Options) ([]domain.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.Validationf("query", "must not be empty")
	}
	if opts != nil && opts.Limit != nil && *opts.Limit <= 0 {
		return nil, domain.Validationf("limit", "must be at least 1")
	}

	start := time.Now()
	var results []domain.RetrievalResult
	var err error

	cfg, err := s.settings.Get(ctx)
	if err != nil {
		// Fallback defaults if settings fail (shouldn't happen)
		cfg = &settings.Settings{SearchTopK: 5}
	}

	limit := cfg.SearchTopK
	threshold := cfg.ScoreThreshold
	if opts != nil {
		if opts.Limit != nil {
			limit = *opts.Limit
		}
		if opts.Threshold != nil {
			threshold = *opts.Threshold
		}
	}

	defer func() {
		if s.logger != nil && err == nil {
			entry := QueryLogEntry{
				Query:         query,
				K:             limit,
				NumResults:    len(results),
				Duration:      time.Since(start),
				CorrelationID: middleware.GetCorrelationID(ctx),
			}
			if len(results) > 0 {
				entry.TopScore = results[0].Score
			}
			s.logger.Log(entry)
		}
	}()

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Query(ctx, vec, limit)
	if err != nil {
		return nil, err
	}

	results = make([]domain.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		if h.Score < threshold {
			continue
		}
		results = append(results, domain.RetrievalResult{
			Chunk: domain.Chunk{
				ID:         h.Entry.ChunkID,
				DocumentID: h.Entry.DocumentID,
				Seq:        h.Entry.Seq,
				Text:       h.Entry.Text,
			},
			Score: h.Score,
			Document: domain.DocumentRef{
				ID:    h.Entry.DocumentID,
				Title: h.Entry.Title,
				URI:   h.Entry.URI,
			},
		})
	}
	return results, nil
}
