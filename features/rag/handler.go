// Package rag exposes the query surface: raw retrieval and cited answers.
package rag

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"mimi/internal/adapter/gemini"
	"mimi/internal/agent"
	"mimi/internal/middleware"
	"mimi/internal/retrieval"
	"mimi/internal/vector"
)

type Handler struct {
	retrieval *retrieval.Service
	agent     *agent.Service
}

func NewHandler(retrievalSvc *retrieval.Service, agentSvc *agent.Service) *Handler {
	return &Handler{retrieval: retrievalSvc, agent: agentSvc}
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req retrieval.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.retrieval.Query(r.Context(), req)
	if err != nil {
		h.handleQueryError(r.Context(), w, err)
		return
	}

	if resp.Results == nil {
		resp.Results = []retrieval.Result{}
	}
	h.writeJSON(w, map[string]interface{}{"data": resp})
}

func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var req retrieval.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	ans, err := h.agent.Ask(r.Context(), req)
	if err != nil {
		h.handleQueryError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, map[string]interface{}{"data": ans})
}

func (h *Handler) handleQueryError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, retrieval.ErrEmptyQuery):
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	case errors.Is(err, vector.ErrUnavailable), errors.Is(err, gemini.ErrEmbeddingBackend):
		slog.ErrorContext(ctx, "query backend failure", "error", err)
		h.writeError(ctx, w, "UPSTREAM_ERROR", "A backing service is unavailable", http.StatusBadGateway)
	default:
		slog.ErrorContext(ctx, "query failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
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
