package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"sibyl/features/chat"
	"sibyl/features/job"
	"sibyl/features/mcp"
	"sibyl/features/stats"
	"sibyl/features/upload"
	"sibyl/features/website"
	"sibyl/internal/adapter/gemini"
	"sibyl/internal/adapter/local"
	"sibyl/internal/adapter/redisearch"
	"sibyl/internal/answer"
	"sibyl/internal/config"
	"sibyl/internal/corpus"
	"sibyl/internal/crawler"
	"sibyl/internal/ingest"
	"sibyl/internal/middleware"
	"sibyl/internal/retrieval"
	"sibyl/internal/settings"
	"sibyl/internal/text"
	"sibyl/internal/vector"
	"sibyl/internal/worker"
)

// Embedder and Generator are the provider seams the wiring switches on.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float32) (string, error)
}

type App struct {
	Handler  http.Handler
	Websites *website.Service
	Resync   *worker.ResyncConsumer

	cfg     *config.Config
	closers []io.Closer
}

// New wires the feature stack over the bootstrapped dependencies. Memory
// backends leave deps.DB nil; everything database-bound (settings row,
// failed jobs, resync) then falls back or drops out of the route table.
func New(cfg *config.Config, deps *Dependencies) (*App, error) {
	a := &App{cfg: cfg}

	var settingsRepo settings.Repository
	if deps.DB != nil {
		settingsRepo = settings.NewPostgresRepo(deps.DB)
	} else {
		settingsRepo = settings.NewMemoryRepo()
	}
	settingsService := settings.NewService(settingsRepo)
	if err := settingsService.SeedAPIKey(context.Background(), cfg.GeminiAPIKey); err != nil {
		slog.Warn("failed to seed gemini api key", "error", err)
	}
	settingsHandler := settings.NewHandler(settingsService)

	var store corpus.Store
	if deps.DB != nil {
		store = corpus.NewPostgresStore(deps.DB)
	} else {
		store = corpus.NewMemoryStore()
	}
	manager := corpus.NewManager(store, deps.Index)

	var embedder Embedder
	switch cfg.EmbedProvider {
	case config.ProviderGemini:
		e := gemini.NewEmbedder(settingsService)
		a.closers = append(a.closers, e)
		embedder = e
	default:
		embedder = local.NewEmbedder()
	}
	if cfg.EmbedTimeoutSeconds > 0 {
		embedder = timeoutEmbedder{
			inner:   embedder,
			timeout: time.Duration(cfg.EmbedTimeoutSeconds) * time.Second,
		}
	}

	var generator Generator
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		g := gemini.NewGenerator(settingsService)
		a.closers = append(a.closers, g)
		generator = g
	default:
		generator = local.NewGenerator()
	}

	chunker, err := text.NewChunker(cfg.ChunkMaxChars, cfg.ChunkOverlapChars)
	if err != nil {
		return nil, fmt.Errorf("chunker: %w", err)
	}
	pipeline := ingest.NewPipeline(chunker, embedder, manager)

	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retriever := retrieval.NewService(embedder, manager, settingsService, queryLogger)

	synthesizer, err := answer.NewSynthesizer(retriever, generator,
		cfg.PromptTokenBudget, time.Duration(cfg.GenerateTimeoutSeconds)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("synthesizer: %w", err)
	}

	uploads := upload.NewStore(cfg.UploadDir)
	uploadHandler := upload.NewHandler(uploads, int(cfg.MaxUploadSizeMB))

	var pub publisher = disabledPublisher{}
	if deps.Producer != nil {
		pub = deps.Producer
	}

	a.Websites = website.NewService(
		crawler.NewCrawler(nil, cfg.CrawlRPS),
		pipeline, manager, pub, cfg.SiteConcurrency,
	)
	websiteHandler := website.NewHandler(a.Websites)

	chatService := chat.NewService(synthesizer, uploads, pipeline, manager)
	chatHandler := chat.NewHandler(chatService, collectionInfo(cfg))

	var jobHandler *job.Handler
	var jobCounter stats.JobCounter
	if deps.DB != nil {
		jobs := job.NewPostgresRepo(deps.DB)
		jobCounter = jobs
		jobHandler = job.NewHandler(job.NewService(jobs, pub))
		if deps.Producer != nil {
			a.Resync = worker.NewResyncConsumer(a.Websites, jobs)
		}
	}

	statsHandler := stats.NewHandler(manager, jobCounter)
	mcpHandler := mcp.NewHandler(retriever, synthesizer, manager)

	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.CorrelationID(middleware.CORS(h)))
	}

	handle("POST /v1/uploads", uploadHandler.Upload)

	handle("POST /v1/chat/message", chatHandler.Message)
	handle("POST /v1/chat/documents/add", chatHandler.AddDocument)
	handle("GET /v1/chat/documents/stats", chatHandler.DocumentStats)
	handle("DELETE /v1/chat/documents/clear", chatHandler.ClearDocuments)

	handle("POST /v1/websites/ingest", websiteHandler.Ingest)
	handle("POST /v1/websites/ingest-multiple", websiteHandler.IngestMultiple)
	handle("GET /v1/websites/sources", websiteHandler.Sources)
	handle("DELETE /v1/websites/sources/clear", websiteHandler.Clear)
	handle("POST /v1/websites/{id}/resync", websiteHandler.ReSync)

	handle("GET /v1/settings", settingsHandler.GetSettings)
	handle("PUT /v1/settings", settingsHandler.UpdateSettings)

	if jobHandler != nil {
		handle("GET /v1/jobs/failed", jobHandler.List)
		handle("POST /v1/jobs/{id}/retry", jobHandler.Retry)
	}

	handle("GET /v1/stats", statsHandler.GetStats)

	mux.Handle("/mcp", middleware.CorrelationID(mcpHandler)) // Legacy POST endpoint
	handle("GET /mcp/sse", mcpHandler.HandleSSE)
	handle("POST /mcp/messages", mcpHandler.HandleMessage)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	a.Handler = mux
	return a, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close adapter", "error", err)
		}
	}
}

// timeoutEmbedder bounds every provider call so a hung embedding request
// cannot stall an ingest batch indefinitely.
type timeoutEmbedder struct {
	inner   Embedder
	timeout time.Duration
}

func (t timeoutEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Embed(ctx, text)
}

// collectionInfo names the configured index and embedding model for the
// document stats surface.
func collectionInfo(cfg *config.Config) chat.CollectionInfo {
	info := chat.CollectionInfo{
		CollectionName: vector.ClassName,
		EmbeddingModel: gemini.EmbedModel,
	}
	switch cfg.VectorBackend {
	case config.VectorMemory:
		info.CollectionName = "memory"
	case config.VectorRediSearch:
		info.CollectionName = redisearch.IndexName
	}
	if cfg.EmbedProvider == config.ProviderLocal {
		info.EmbeddingModel = "local-hash-32"
	}
	return info
}

// publisher matches nsq.Producer's Publish and the feature-side publisher
// interfaces, so one value can serve both the website and job services.
type publisher interface {
	Publish(topic string, body []byte) error
}

// disabledPublisher stands in when resync is switched off. Publishing fails
// loudly instead of dropping the task on the floor.
type disabledPublisher struct{}

func (disabledPublisher) Publish(string, []byte) error {
	return errors.New("resync is disabled: no queue configured")
}
