package logger

import (
	"context"
	"io"
	"log/slog"

	"sibyl/internal/middleware"
)

// ContextHandler decorates an slog.Handler so every record emitted with a
// request context carries the correlation id set by the middleware.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := middleware.GetCorrelationID(ctx); id != "" && id != "unknown" {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

// Setup builds the process-wide JSON logger and installs it as the slog
// default. env selects the minimum level: debug everywhere except production.
func Setup(w io.Writer, env string) *slog.Logger {
	level := slog.LevelDebug
	if env == "production" {
		level = slog.LevelInfo
	}

	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	l := slog.New(NewContextHandler(jsonHandler))
	slog.SetDefault(l)
	return l
}
