package website

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"sibyl/internal/middleware"
)

const (
	defaultMaxPages = 10
	maxPagesLimit   = 50
	maxSitesPerCall = 10
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL             string   `json:"url"`
		MaxPages        int      `json:"max_pages"`
		ExcludePatterns []string `json:"exclude_patterns"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	if req.URL == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "URL is required", http.StatusBadRequest)
		return
	}
	if req.MaxPages == 0 {
		req.MaxPages = defaultMaxPages
	}
	if req.MaxPages < 1 || req.MaxPages > maxPagesLimit {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "max_pages must be between 1 and 50", http.StatusBadRequest)
		return
	}

	result := h.service.Ingest(r.Context(), req.URL, req.MaxPages, req.ExcludePatterns)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) IngestMultiple(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URLs            []string `json:"urls"`
		MaxPagesPerSite int      `json:"max_pages_per_site"`
		ExcludePatterns []string `json:"exclude_patterns"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	if len(req.URLs) == 0 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "At least one URL is required", http.StatusBadRequest)
		return
	}
	if len(req.URLs) > maxSitesPerCall {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "At most 10 URLs per request", http.StatusBadRequest)
		return
	}
	if req.MaxPagesPerSite == 0 {
		req.MaxPagesPerSite = defaultMaxPages
	}
	if req.MaxPagesPerSite < 1 || req.MaxPagesPerSite > maxPagesLimit {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "max_pages_per_site must be between 1 and 50", http.StatusBadRequest)
		return
	}

	result := h.service.IngestMultiple(r.Context(), req.URLs, req.MaxPagesPerSite, req.ExcludePatterns)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Sources(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListSources(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	type sourceInfo struct {
		ID        string    `json:"id"`
		URL       string    `json:"url"`
		Domain    string    `json:"domain"`
		Title     string    `json:"title"`
		Chunks    int       `json:"chunks"`
		ScrapedAt time.Time `json:"scraped_at"`
	}

	sources := make([]sourceInfo, 0, len(list))
	totalChunks := 0
	for _, src := range list {
		sources = append(sources, sourceInfo{
			ID:        src.ID,
			URL:       src.RootURL,
			Domain:    src.Domain,
			Title:     src.Title,
			Chunks:    src.ChunkCount,
			ScrapedAt: src.ScrapedAt,
		})
		totalChunks += src.ChunkCount
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"sources":       sources,
		"total_sources": len(sources),
		"total_chunks":  totalChunks,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearSources(r.Context()); err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"message": "All website sources cleared successfully"}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) ReSync(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.ReSync(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(r.Context(), w, "NOT_FOUND", "Source not found", http.StatusNotFound)
			return
		}
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]string{"message": "Re-sync queued"}); err != nil {
		slog.Error("failed to encode response", "error", err)
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
