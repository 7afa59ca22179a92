package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"sibyl/features/job"
	"sibyl/internal/middleware"
)

const (
	// MaxAttempts bounds NSQ deliveries per task: one initial attempt plus
	// one requeue, then the task parks in the dead-letter store.
	MaxAttempts = 2

	resyncTimeout = 10 * time.Minute
)

// Resyncer re-runs the crawl and ingestion for one website source.
type Resyncer interface {
	Resync(ctx context.Context, sourceID, url string, maxPages int, exclusions []string) error
}

type ResyncConsumer struct {
	resyncer Resyncer
	jobs     job.Repository
}

func NewResyncConsumer(r Resyncer, jobs job.Repository) *ResyncConsumer {
	return &ResyncConsumer{resyncer: r, jobs: jobs}
}

func (h *ResyncConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload ResyncPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if payload.SourceID == "" || payload.URL == "" {
		slog.ErrorContext(ctx, "missing required fields, dropping", "source_id", payload.SourceID, "url", payload.URL)
		return nil
	}

	slog.InfoContext(ctx, "resyncing website source", "source_id", payload.SourceID, "url", payload.URL, "attempt", m.Attempts)

	resyncCtx, cancel := context.WithTimeout(ctx, resyncTimeout)
	defer cancel()

	err := h.resyncer.Resync(resyncCtx, payload.SourceID, payload.URL, payload.MaxPages, payload.Exclusions)
	if err == nil {
		slog.InfoContext(ctx, "resync completed", "source_id", payload.SourceID, "url", payload.URL)
		return nil
	}

	slog.ErrorContext(ctx, "resync failed", "source_id", payload.SourceID, "url", payload.URL, "error", err, "attempt", m.Attempts)

	if m.Attempts >= MaxAttempts {
		h.deadLetter(ctx, payload, err)
		return nil // Finish the message; the parked job owns the retry now.
	}
	return err // Requeue
}

func (h *ResyncConsumer) deadLetter(ctx context.Context, payload ResyncPayload, cause error) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal dead-letter payload", "error", err)
		return
	}

	failed := &job.Job{
		SourceID: payload.SourceID,
		Task:     "resync",
		Payload:  body,
		Error:    cause.Error(),
	}
	if err := h.jobs.Save(ctx, failed); err != nil {
		slog.ErrorContext(ctx, "failed to save dead-letter job", "error", err, "source_id", payload.SourceID)
		return
	}
	slog.InfoContext(ctx, "parked failed resync for manual retry", "job_id", failed.ID, "source_id", payload.SourceID)
}
