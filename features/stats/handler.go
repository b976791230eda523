package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"mimi/internal/middleware"
)

type MetadataRepo interface {
	CountDocuments(ctx context.Context) (int, error)
	CountChunks(ctx context.Context, docID string) (int, error)
	CountEvents(ctx context.Context) (int, error)
}

type VectorStore interface {
	CountChunks(ctx context.Context) (int, error)
}

type Handler struct {
	repo        MetadataRepo
	vectorStore VectorStore
}

func NewHandler(repo MetadataRepo, v VectorStore) *Handler {
	return &Handler{repo: repo, vectorStore: v}
}

type StatsResponse struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Vectors   int `json:"vectors"`
	Events    int `json:"events"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	docs, err := h.repo.CountDocuments(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count documents", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count documents", http.StatusInternalServerError)
		return
	}

	chunks, err := h.repo.CountChunks(ctx, "")
	if err != nil {
		slog.ErrorContext(ctx, "failed to count chunks", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count chunks", http.StatusInternalServerError)
		return
	}

	events, err := h.repo.CountEvents(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count events", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count events", http.StatusInternalServerError)
		return
	}

	// Vector count is informational; a reduced vector count next to the chunk
	// count is how dedup shows up here.
	vectors, err := h.vectorStore.CountChunks(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to count vectors", "error", err)
		vectors = -1
	}

	resp := StatsResponse{
		Documents: docs,
		Chunks:    chunks,
		Vectors:   vectors,
		Events:    events,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
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
		slog.ErrorContext(ctx, "failed to encode error response", "error", err)
	}
}
