package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"sibyl/internal/domain"
	"sibyl/internal/middleware"
)

// Corpus is the read-only slice of the corpus manager stats needs.
type Corpus interface {
	Stats(ctx context.Context) (domain.CorpusStats, error)
	ListWebsiteSources(ctx context.Context) ([]domain.WebsiteSource, error)
}

// JobCounter counts parked resync tasks. Nil when the deployment has no
// database; the response then reports zero failed jobs.
type JobCounter interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	corpus Corpus
	jobs   JobCounter
}

func NewHandler(c Corpus, j JobCounter) *Handler {
	return &Handler{corpus: c, jobs: j}
}

type StatsResponse struct {
	TotalDocuments int `json:"total_documents"`
	TotalChunks    int `json:"total_chunks"`
	TotalWebsites  int `json:"total_websites"`
	FailedJobs     int `json:"failed_jobs"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cs, err := h.corpus.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read corpus stats", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read corpus stats", http.StatusInternalServerError)
		return
	}

	sites, err := h.corpus.ListWebsiteSources(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list website sources", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list website sources", http.StatusInternalServerError)
		return
	}

	failed := 0
	if h.jobs != nil {
		failed, err = h.jobs.Count(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count jobs", "error", err)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
			return
		}
	}

	resp := StatsResponse{
		TotalDocuments: cs.TotalDocuments,
		TotalChunks:    cs.TotalChunks,
		TotalWebsites:  len(sites),
		FailedJobs:     failed,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
