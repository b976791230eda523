package document

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"mimi/internal/middleware"
)

// Remover tears a document down across the metadata and vector stores.
// Implemented by the ingest service so deletion shares the dedup-aware
// cleanup with re-ingestion.
type Remover interface {
	Delete(ctx context.Context, docID string) error
}

// ReindexPublisher enqueues a document for asynchronous re-ingestion.
type ReindexPublisher interface {
	PublishReindex(docID string) error
}

type Handler struct {
	repo      Repository
	remover   Remover
	publisher ReindexPublisher
}

func NewHandler(repo Repository, remover Remover, publisher ReindexPublisher) *Handler {
	return &Handler{repo: repo, remover: remover, publisher: publisher}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	docs, err := h.repo.ListDocuments(r.Context(), r.URL.Query().Get("source"), limit)
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	if docs == nil {
		docs = []Document{}
	}
	h.writeJSON(w, map[string]interface{}{
		"data": docs,
		"meta": map[string]int{"count": len(docs)},
	}, http.StatusOK)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	doc, err := h.repo.GetDocument(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		h.writeError(r.Context(), w, "NOT_FOUND", "Document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	chunks, err := h.repo.ListChunks(r.Context(), id)
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	// Chunk bodies stay out of listings; previews are enough for inspection.
	for i := range chunks {
		chunks[i].Text = ""
	}
	if chunks == nil {
		chunks = []Chunk{}
	}

	h.writeJSON(w, map[string]interface{}{
		"data": map[string]interface{}{
			"document": doc,
			"chunks":   chunks,
		},
	}, http.StatusOK)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.remover.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(r.Context(), w, "NOT_FOUND", "Document not found", http.StatusNotFound)
			return
		}
		slog.Error("document delete failed", "error", err, "doc_id", id)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, map[string]interface{}{
		"data": map[string]string{"id": id, "status": "deleted"},
	}, http.StatusOK)
}

// Reindex accepts the document id either as a path value or, because ids
// contain slashes, as the ?id query parameter.
func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		id = r.URL.Query().Get("id")
	}
	if id == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "Document id is required", http.StatusBadRequest)
		return
	}

	if _, err := h.repo.GetDocument(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(r.Context(), w, "NOT_FOUND", "Document not found", http.StatusNotFound)
			return
		}
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	if err := h.publisher.PublishReindex(id); err != nil {
		slog.Error("failed to publish reindex", "error", err, "doc_id", id)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to enqueue reindex", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, map[string]interface{}{
		"data": map[string]string{"id": id, "status": "queued"},
	}, http.StatusAccepted)
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.repo.ListEvents(r.Context(), limit)
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	if events == nil {
		events = []Event{}
	}
	h.writeJSON(w, map[string]interface{}{
		"data": events,
		"meta": map[string]int{"count": len(events)},
	}, http.StatusOK)
}

func (h *Handler) writeJSON(w http.ResponseWriter, body interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
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
