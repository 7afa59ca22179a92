package settings_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sibyl/internal/domain"
	"sibyl/internal/settings"
)

func TestService_Update_KeepsKeyOnRedactedValue(t *testing.T) {
	repo := settings.NewMemoryRepo()
	svc := settings.NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.Update(ctx, &settings.Settings{GeminiAPIKey: "real-key", SearchTopK: 5}))

	// A client PUTting back what it read must not erase the key.
	require.NoError(t, svc.Update(ctx, &settings.Settings{GeminiAPIKey: settings.RedactedKey, SearchTopK: 9}))

	s, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "real-key", s.GeminiAPIKey)
	assert.Equal(t, 9, s.SearchTopK)

	// Same for an omitted key.
	require.NoError(t, svc.Update(ctx, &settings.Settings{SearchTopK: 3}))

	s, err = svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "real-key", s.GeminiAPIKey)
	assert.Equal(t, 3, s.SearchTopK)
}

func TestService_Update_Validation(t *testing.T) {
	svc := settings.NewService(settings.NewMemoryRepo())
	ctx := context.Background()

	err := svc.Update(ctx, &settings.Settings{SearchTopK: 0})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	err = svc.Update(ctx, &settings.Settings{SearchTopK: 5, ScoreThreshold: 1.5})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestService_SeedAPIKey(t *testing.T) {
	t.Run("Seeds When Empty", func(t *testing.T) {
		svc := settings.NewService(settings.NewMemoryRepo())

		require.NoError(t, svc.SeedAPIKey(context.Background(), "env-key"))

		s, err := svc.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "env-key", s.GeminiAPIKey)
	})

	t.Run("Keeps Existing Key", func(t *testing.T) {
		svc := settings.NewService(settings.NewMemoryRepo())
		require.NoError(t, svc.Update(context.Background(), &settings.Settings{GeminiAPIKey: "stored", SearchTopK: 5}))

		require.NoError(t, svc.SeedAPIKey(context.Background(), "env-key"))

		s, err := svc.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "stored", s.GeminiAPIKey)
	})

	t.Run("No Key To Seed", func(t *testing.T) {
		svc := settings.NewService(settings.NewMemoryRepo())
		require.NoError(t, svc.SeedAPIKey(context.Background(), ""))

		s, err := svc.Get(context.Background())
		require.NoError(t, err)
		assert.Empty(t, s.GeminiAPIKey)
	})
}

func TestSettings_Redacted(t *testing.T) {
	s := settings.Settings{GeminiAPIKey: "secret", SearchTopK: 5}
	assert.Equal(t, settings.RedactedKey, s.Redacted().GeminiAPIKey)
	assert.Equal(t, "secret", s.GeminiAPIKey)

	empty := settings.Settings{}
	assert.Empty(t, empty.Redacted().GeminiAPIKey)
}
