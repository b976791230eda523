package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"mimi/internal/adapter/gemini"
	"mimi/internal/middleware"
	"mimi/internal/text"
	"mimi/internal/vector"
)

type Handler struct {
	service     *Service
	maxBytes    int64
	allowedExts map[string]bool
}

func NewHandler(service *Service, maxUploadMB int, allowedExts []string) *Handler {
	exts := make(map[string]bool, len(allowedExts))
	for _, e := range allowedExts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	return &Handler{
		service:     service,
		maxBytes:    int64(maxUploadMB) << 20,
		allowedExts: exts,
	}
}

// Upload ingests one file from a multipart form. Fields: source (required),
// path (defaults to the uploaded filename), lang (optional), file (the
// content).
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "File too large or malformed form", http.StatusBadRequest)
		return
	}

	source := r.FormValue("source")
	if source == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "Source is required", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "Unable to retrieve file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	path := r.FormValue("path")
	if path == "" {
		path = header.Filename
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !h.allowedExts[ext] {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "Unsupported file type", http.StatusBadRequest)
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to read file", http.StatusInternalServerError)
		return
	}

	result, err := h.service.Ingest(r.Context(), Request{
		Source:  source,
		Path:    path,
		Lang:    r.FormValue("lang"),
		Content: content,
	})
	if err != nil {
		h.handleIngestError(r.Context(), w, err, source, path)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": result}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) handleIngestError(ctx context.Context, w http.ResponseWriter, err error, source, path string) {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, text.ErrEncoding):
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	case errors.Is(err, gemini.ErrEmbeddingBackend), errors.Is(err, vector.ErrUnavailable):
		slog.ErrorContext(ctx, "ingest backend failure", "error", err, "source", source, "path", path)
		h.writeError(ctx, w, "UPSTREAM_ERROR", "A backing service is unavailable", http.StatusBadGateway)
	default:
		slog.ErrorContext(ctx, "ingest failed", "error", err, "source", source, "path", path)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
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
