package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"sibyl/internal/domain"
	"sibyl/internal/settings"
)

const EmbedModel = "gemini-embedding-001"

// EmbedDim is the output dimensionality of the embedding model. Index
// backends that fix the dimension at schema creation read it from here.
const EmbedDim = 3072

// Embedder resolves its API key from runtime settings on every call, so a
// key rotation through the settings endpoint takes effect immediately.
type Embedder struct {
	settingsSvc *settings.Service
	pool        *clientPool
}

func NewEmbedder(svc *settings.Service, opts ...option.ClientOption) *Embedder {
	return &Embedder{settingsSvc: svc, pool: newClientPool(opts...)}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s, err := e.settingsSvc.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	if s.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}

	client, err := e.pool.get(ctx, s.GeminiAPIKey)
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "embedding content", "model", EmbedModel, "length", len(text))

	model := client.EmbeddingModel(EmbedModel)
	res, err := model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err)
		return nil, &domain.EmbeddingError{Err: err}
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, &domain.EmbeddingError{Err: errors.New("empty embedding received")}
	}
	return res.Embedding.Values, nil
}

func (e *Embedder) Close() error {
	return e.pool.close()
}
