package config

import (
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

// Backend selectors. The memory backends need no external services and are
// the development defaults.
const (
	VectorMemory     = "memory"
	VectorWeaviate   = "weaviate"
	VectorRediSearch = "redisearch"

	CorpusMemory   = "memory"
	CorpusPostgres = "postgres"

	ProviderLocal  = "local"
	ProviderGemini = "gemini"
)

type Config struct {
	Env        string `envconfig:"ENV" default:"development"`
	ServerPort int    `envconfig:"SERVER_PORT" default:"8081"`

	VectorBackend string `envconfig:"VECTOR_BACKEND" default:"memory"`
	CorpusBackend string `envconfig:"CORPUS_BACKEND" default:"memory"`
	EmbedProvider string `envconfig:"EMBED_PROVIDER" default:"local"`
	LLMProvider   string `envconfig:"LLM_PROVIDER" default:"local"`

	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`

	DBHost        string `envconfig:"DB_HOST" default:"postgres"`
	DBPort        int    `envconfig:"DB_PORT" default:"5432"`
	DBUser        string `envconfig:"DB_USER" default:"sibyl"`
	DBPass        string `envconfig:"DB_PASS" default:"password"`
	DBName        string `envconfig:"DB_NAME" default:"sibyl"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`

	ResyncEnabled bool   `envconfig:"RESYNC_ENABLED" default:"false"`
	NSQLookupd    string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost      string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP      string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	ChunkMaxChars     int     `envconfig:"CHUNK_MAX_CHARS" default:"1000"`
	ChunkOverlapChars int     `envconfig:"CHUNK_OVERLAP_CHARS" default:"200"`
	CrawlRPS          float64 `envconfig:"CRAWL_RPS" default:"2"`
	SiteConcurrency   int     `envconfig:"SITE_CONCURRENCY" default:"3"`

	EmbedTimeoutSeconds    int `envconfig:"EMBED_TIMEOUT_SECONDS" default:"60"`
	GenerateTimeoutSeconds int `envconfig:"GENERATE_TIMEOUT_SECONDS" default:"90"`
	PromptTokenBudget      int `envconfig:"PROMPT_TOKEN_BUDGET" default:"3000"`

	QueryLogPath    string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"25"`
	UploadDir       string `envconfig:"UPLOAD_DIR" default:"data/uploads"`

	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may come from the shell instead, so a missing .env is fine.
	_ = godotenv.Load(".env")

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.VectorBackend {
	case VectorMemory, VectorWeaviate, VectorRediSearch:
	default:
		return fmt.Errorf("unknown VECTOR_BACKEND %q", c.VectorBackend)
	}
	switch c.CorpusBackend {
	case CorpusMemory, CorpusPostgres:
	default:
		return fmt.Errorf("unknown CORPUS_BACKEND %q", c.CorpusBackend)
	}
	switch c.EmbedProvider {
	case ProviderLocal, ProviderGemini:
	default:
		return fmt.Errorf("unknown EMBED_PROVIDER %q", c.EmbedProvider)
	}
	switch c.LLMProvider {
	case ProviderLocal, ProviderGemini:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}

	if c.CorpusBackend == CorpusPostgres {
		if c.DBHost == "" {
			return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
		}
	}
	if c.VectorBackend == VectorWeaviate && c.WeaviateHost == "" {
		return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
	}
	if c.VectorBackend == VectorRediSearch && c.RedisAddr == "" {
		return fmt.Errorf("%w: REDIS_ADDR", ErrMissingRequired)
	}
	if c.ResyncEnabled {
		if c.NSQDHost == "" {
			return fmt.Errorf("%w: NSQD_HOST", ErrMissingRequired)
		}
		if c.NSQLookupd == "" {
			return fmt.Errorf("%w: NSQ_LOOKUPD", ErrMissingRequired)
		}
	}

	if c.ChunkMaxChars <= 0 {
		return fmt.Errorf("CHUNK_MAX_CHARS must be positive, got %d", c.ChunkMaxChars)
	}
	if c.ChunkOverlapChars < 0 || c.ChunkOverlapChars >= c.ChunkMaxChars {
		return fmt.Errorf("CHUNK_OVERLAP_CHARS must be in [0, CHUNK_MAX_CHARS), got %d", c.ChunkOverlapChars)
	}
	if c.SiteConcurrency <= 0 {
		return fmt.Errorf("SITE_CONCURRENCY must be positive, got %d", c.SiteConcurrency)
	}
	return nil
}

// DSN renders the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
