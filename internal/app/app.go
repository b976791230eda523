// Package app assembles the HTTP surface and background consumers from the
// bootstrapped dependencies.
package app

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"mimi/features/document"
	"mimi/features/ingest"
	"mimi/features/rag"
	"mimi/features/stats"
	"mimi/internal/agent"
	"mimi/internal/config"
	"mimi/internal/middleware"
	"mimi/internal/retrieval"
	"mimi/internal/text"
	"mimi/internal/vector"
	"mimi/internal/worker"
)

// Database is satisfied by *sql.DB; kept as an interface so tests can assert
// wiring without a live connection.
type Database interface {
	PingContext(ctx context.Context) error
}

type App struct {
	Handler         http.Handler
	IngestService   *ingest.Service
	ReindexConsumer *worker.ReindexConsumer
}

func New(
	cfg *config.Config,
	db Database,
	vecStore vector.Store,
	embedder ingest.Embedder,
	queryEmbedder retrieval.Embedder,
	llm agent.Generator,
	taskPub ingest.TaskPublisher,
) (*App, error) {
	sqlDB := db.(*sql.DB)

	chunker, err := text.NewChunker(cfg.ChunkMaxChars, cfg.ChunkMinChars, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	// Feature: Document
	repo := document.NewPostgresRepo(sqlDB)

	// Feature: Ingest
	var busPub *ingest.BusPublisher
	if taskPub != nil {
		busPub = ingest.NewBusPublisher(taskPub)
	}
	var eventMirror ingest.EventPublisher
	if busPub != nil {
		eventMirror = busPub
	}
	ingestService := ingest.NewService(repo, vecStore, embedder, chunker, eventMirror)
	ingestHandler := ingest.NewHandler(ingestService, int(cfg.MaxUploadSizeMB), splitCSV(cfg.AllowedExtensions))

	var reindexPub document.ReindexPublisher
	if busPub != nil {
		reindexPub = busPub
	} else {
		reindexPub = inlineReindexer{service: ingestService}
	}
	documentHandler := document.NewHandler(repo, ingestService, reindexPub)

	// Feature: Retrieval & Agent
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(queryEmbedder, vecStore, repo, cfg.ConfidenceThreshold, queryLogger)
	agentService := agent.NewService(retrievalService, llm)
	ragHandler := rag.NewHandler(retrievalService, agentService)

	// Feature: Stats
	statsHandler := stats.NewHandler(repo, vecStore)

	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()

	mux.Handle("POST /ingest/upload", middleware.CorrelationID(enableCORS(ingestHandler.Upload)))

	mux.Handle("GET /documents", middleware.CorrelationID(enableCORS(documentHandler.List)))
	mux.Handle("GET /documents/{id...}", middleware.CorrelationID(enableCORS(documentHandler.Get)))
	mux.Handle("DELETE /documents/{id...}", middleware.CorrelationID(enableCORS(documentHandler.Delete)))
	// Document ids contain slashes, so reindex takes ?id= instead of a path value.
	mux.Handle("POST /documents/reindex", middleware.CorrelationID(enableCORS(documentHandler.Reindex)))

	mux.Handle("GET /events", middleware.CorrelationID(enableCORS(documentHandler.ListEvents)))

	mux.Handle("POST /rag/query", middleware.CorrelationID(enableCORS(ragHandler.Query)))
	mux.Handle("POST /agent/ask", middleware.CorrelationID(enableCORS(ragHandler.Ask)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:         mux,
		IngestService:   ingestService,
		ReindexConsumer: worker.NewReindexConsumer(ingestService),
	}, nil
}

// inlineReindexer runs reindex requests synchronously when no bus producer is
// configured.
type inlineReindexer struct {
	service *ingest.Service
}

func (r inlineReindexer) PublishReindex(docID string) error {
	_, err := r.service.Reindex(context.Background(), docID)
	return err
}

func splitCSV(s string) []string {
	return strings.Split(s, ",")
}
