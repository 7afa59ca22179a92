package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"sibyl/internal/domain"
	"sibyl/internal/middleware"
)

const (
	maxMessageLen       = 2000
	defaultContextLimit = 5
	maxContextLimit     = 10
	defaultTemperature  = 0.1
)

// CollectionInfo describes the index backing the corpus, reported alongside
// document stats.
type CollectionInfo struct {
	CollectionName string `json:"collection_name"`
	DocumentCount  int    `json:"document_count"`
	EmbeddingModel string `json:"embedding_model"`
}

type Handler struct {
	service *Service
	info    CollectionInfo
}

func NewHandler(service *Service, info CollectionInfo) *Handler {
	return &Handler{service: service, info: info}
}

// Message answers one chat question. Pointer fields distinguish "absent"
// from zero so temperature 0 stays a valid request.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message        string   `json:"message"`
		ContextLimit   *int     `json:"context_limit"`
		Temperature    *float32 `json:"temperature"`
		ConversationID string   `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	if req.Message == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "message is required", http.StatusBadRequest)
		return
	}
	if len(req.Message) > maxMessageLen {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "message must be at most 2000 characters", http.StatusBadRequest)
		return
	}

	contextLimit := defaultContextLimit
	if req.ContextLimit != nil {
		contextLimit = *req.ContextLimit
	}
	if contextLimit < 1 || contextLimit > maxContextLimit {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "context_limit must be between 1 and 10", http.StatusBadRequest)
		return
	}

	var temperature float32 = defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	if temperature < 0 || temperature > 2 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "temperature must be between 0 and 2", http.StatusBadRequest)
		return
	}

	ans, err := h.service.Message(r.Context(), req.Message, contextLimit, temperature)
	if err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"answer":       ans.Text,
		"sources":      ans.Sources,
		"confidence":   ans.Confidence,
		"context_used": ans.ContextUsed,
	}
	// Echoed back for clients that thread conversations; the server keeps
	// no per-conversation state.
	if req.ConversationID != "" {
		resp["conversation_id"] = req.ConversationID
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) AddDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UploadID string `json:"upload_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.UploadID == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "upload_id is required", http.StatusBadRequest)
		return
	}

	added, err := h.service.AddDocument(r.Context(), req.UploadID)

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"success":      err == nil,
		"upload_id":    req.UploadID,
		"chunks_added": added,
	}
	if err != nil {
		// An unreadable upload is reported in the body, not as an HTTP
		// failure: batch clients keep going and show the per-item error.
		if domain.IsValidation(err) {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(r.Context(), "failed to add document", "upload_id", req.UploadID, "error", err)
		resp["error"] = err.Error()
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) DocumentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	info := h.info
	info.DocumentCount = stats.TotalChunks

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"total_documents": stats.TotalDocuments,
		"total_chunks":    stats.TotalChunks,
		"collection_info": info,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) ClearDocuments(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Clear(r.Context()); err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"message": "All documents cleared successfully"}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeServiceError maps the error taxonomy to HTTP. Provider failures come
// back as 502 so callers can tell "the system is broken" from "no relevant
// context", which is a normal 200 answer.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var genErr *domain.GenerationError
	var embErr *domain.EmbeddingError
	switch {
	case domain.IsValidation(err):
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	case errors.As(err, &genErr):
		slog.ErrorContext(ctx, "generation failed", "error", err)
		h.writeError(ctx, w, "GENERATION_ERROR", "The language model is unavailable", http.StatusBadGateway)
	case errors.As(err, &embErr):
		slog.ErrorContext(ctx, "embedding failed", "error", err)
		h.writeError(ctx, w, "EMBEDDING_ERROR", "The embedding provider is unavailable", http.StatusBadGateway)
	default:
		slog.ErrorContext(ctx, "chat message failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Failed to process chat message", http.StatusInternalServerError)
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
