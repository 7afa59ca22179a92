package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"sibyl/internal/settings"
)

const generateModel = "gemini-2.5-flash"

// Generator answers prompts with a Gemini chat model. Like the Embedder it
// picks up the API key from runtime settings per call.
type Generator struct {
	settingsSvc *settings.Service
	pool        *clientPool
}

func NewGenerator(svc *settings.Service, opts ...option.ClientOption) *Generator {
	return &Generator{settingsSvc: svc, pool: newClientPool(opts...)}
}

func (g *Generator) Generate(ctx context.Context, prompt string, temperature float32) (string, error) {
	s, err := g.settingsSvc.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get settings: %w", err)
	}
	if s.GeminiAPIKey == "" {
		return "", fmt.Errorf("gemini api key not configured")
	}

	client, err := g.pool.get(ctx, s.GeminiAPIKey)
	if err != nil {
		return "", err
	}

	slog.DebugContext(ctx, "generating answer", "model", generateModel, "prompt_length", len(prompt))

	model := client.GenerativeModel(generateModel)
	model.SetTemperature(temperature)

	res, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		slog.ErrorContext(ctx, "generation failed", "error", err)
		return "", err
	}

	text := responseText(res)
	if text == "" {
		return "", errors.New("empty completion received")
	}
	return text, nil
}

func (g *Generator) Close() error {
	return g.pool.close()
}

func responseText(res *genai.GenerateContentResponse) string {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}
