// Package worker holds the NSQ consumers.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"mimi/features/document"
	"mimi/features/ingest"
	"mimi/internal/adapter/gemini"
	"mimi/internal/middleware"
	"mimi/internal/vector"
)

// Reindexer re-runs the ingestion pipeline for a stored document.
type Reindexer interface {
	Reindex(ctx context.Context, docID string) (*ingest.Result, error)
}

// ReindexConsumer processes reindex requests from the bus. Transient backend
// failures are requeued by returning the error; everything else is dropped.
type ReindexConsumer struct {
	reindexer Reindexer
}

func NewReindexConsumer(reindexer Reindexer) *ReindexConsumer {
	return &ReindexConsumer{reindexer: reindexer}
}

func (c *ReindexConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload struct {
		DocID         string `json:"doc_id"`
		CorrelationID string `json:"correlation_id,omitempty"`
	}
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		slog.Error("invalid reindex message, dropping", "error", err)
		return nil
	}

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if payload.DocID == "" {
		slog.ErrorContext(ctx, "reindex message missing doc_id, dropping")
		return nil
	}

	res, err := c.reindexer.Reindex(ctx, payload.DocID)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			slog.WarnContext(ctx, "reindex target no longer exists, dropping", "doc_id", payload.DocID)
			return nil
		}
		if errors.Is(err, gemini.ErrEmbeddingBackend) || errors.Is(err, vector.ErrUnavailable) {
			slog.WarnContext(ctx, "reindex hit a transient failure, requeueing", "doc_id", payload.DocID, "error", err)
			return err
		}
		slog.ErrorContext(ctx, "reindex failed, dropping", "doc_id", payload.DocID, "error", err)
		return nil
	}

	slog.InfoContext(ctx, "reindex complete", "doc_id", payload.DocID, "chunks", res.Chunks, "reused", res.Reused)
	return nil
}
