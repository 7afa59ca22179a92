package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/redis/go-redis/v9"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"sibyl/internal/adapter/gemini"
	"sibyl/internal/adapter/local"
	"sibyl/internal/adapter/redisearch"
	wstore "sibyl/internal/adapter/weaviate"
	"sibyl/internal/config"
	"sibyl/internal/vector"
)

// Dependencies holds the external collaborators selected by configuration.
// DB is nil on the memory corpus backend; Producer is nil when resync is
// disabled.
type Dependencies struct {
	DB       *sql.DB
	Index    vector.Index
	Producer *nsq.Producer
}

// Bootstrap connects to the configured backends, retrying pings and schema
// setup so the service survives a slower-starting database or vector store.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	deps := &Dependencies{}
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	if cfg.CorpusBackend == config.CorpusPostgres {
		db, err := sql.Open("postgres", cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}

		err = withRetry(cfg.BootstrapRetryAttempts, retryDelay, func() error {
			if pingErr := db.Ping(); pingErr != nil {
				slog.Warn("db not ready yet, retrying", "error", pingErr)
				return pingErr
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("ping db: %w", err)
		}

		if err := runMigrations(db, cfg.MigrationPath); err != nil {
			return nil, err
		}
		deps.DB = db
	}

	switch cfg.VectorBackend {
	case config.VectorMemory:
		deps.Index = vector.NewMemoryIndex()

	case config.VectorWeaviate:
		client, err := weaviate.NewClient(weaviate.Config{
			Host:   cfg.WeaviateHost,
			Scheme: cfg.WeaviateScheme,
		})
		if err != nil {
			return nil, fmt.Errorf("weaviate client: %w", err)
		}
		adapter := vector.NewWeaviateClientAdapter(client)
		err = withRetry(cfg.BootstrapRetryAttempts, retryDelay, func() error {
			return vector.EnsureSchema(ctx, adapter)
		})
		if err != nil {
			return nil, fmt.Errorf("weaviate schema: %w", err)
		}
		deps.Index = wstore.NewStore(client)

	case config.VectorRediSearch:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		store := redisearch.NewStore(client, embedDim(cfg))
		err := withRetry(cfg.BootstrapRetryAttempts, retryDelay, func() error {
			return store.EnsureIndex(ctx)
		})
		if err != nil {
			return nil, fmt.Errorf("redisearch index: %w", err)
		}
		deps.Index = store
	}

	if cfg.ResyncEnabled {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			return nil, fmt.Errorf("nsq producer: %w", err)
		}
		deps.Producer = producer
		createResyncTopic(cfg.NSQDHTTP)
	}

	return deps, nil
}

func (d *Dependencies) Close() {
	if d.Producer != nil {
		d.Producer.Stop()
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Warn("failed to close db", "error", err)
		}
	}
}

func runMigrations(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up: %w", err)
	}
	slog.Info("migrations applied")
	return nil
}

// embedDim is the vector dimension the configured embedding provider emits.
// RediSearch bakes it into the index schema at creation time.
func embedDim(cfg *config.Config) int {
	if cfg.EmbedProvider == config.ProviderGemini {
		return gemini.EmbedDim
	}
	return local.Dim
}

// createResyncTopic pre-creates the resync topic via the nsqd HTTP API.
// NSQ creates topics lazily on publish, but a consumer asking lookupd about
// an unpublished topic gets a 404 until then.
func createResyncTopic(nsqdHTTP string) {
	go func() {
		time.Sleep(2 * time.Second)
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, config.TopicResync)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", config.TopicResync, "error", err)
			return
		}
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", err)
		}
	}()
}

func withRetry(attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}
