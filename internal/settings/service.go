package settings

import (
	"context"

	"sibyl/internal/domain"
)

// RedactedKey is what read responses show in place of a stored API key.
// Updates carrying it (or an empty key) keep the stored key, so clients can
// round-trip whatever they read.
const RedactedKey = "********"

type Settings struct {
	ID             int     `json:"-"`
	GeminiAPIKey   string  `json:"gemini_api_key"`
	SearchTopK     int     `json:"search_top_k"`
	ScoreThreshold float64 `json:"score_threshold"`
}

// Redacted returns a copy safe to serialize.
func (s Settings) Redacted() Settings {
	if s.GeminiAPIKey != "" {
		s.GeminiAPIKey = RedactedKey
	}
	return s
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	if set.SearchTopK < 1 {
		return domain.Validationf("search_top_k", "must be at least 1")
	}
	if set.ScoreThreshold < 0 || set.ScoreThreshold > 1 {
		return domain.Validationf("score_threshold", "must be between 0 and 1")
	}
	if set.GeminiAPIKey == "" || set.GeminiAPIKey == RedactedKey {
		current, err := s.repo.Get(ctx)
		if err != nil {
			return err
		}
		set.GeminiAPIKey = current.GeminiAPIKey
	}
	return s.repo.Update(ctx, set)
}

// SeedAPIKey stores key when no key is configured yet. Called once at boot
// with the environment value, so a fresh deployment starts usable without a
// manual settings update.
func (s *Service) SeedAPIKey(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	current, err := s.repo.Get(ctx)
	if err != nil {
		return err
	}
	if current.GeminiAPIKey != "" {
		return nil
	}
	current.GeminiAPIKey = key
	return s.repo.Update(ctx, current)
}
