package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"

	"mimi/internal/agent"
	"mimi/internal/app"
	"mimi/internal/config"
	"mimi/internal/logger"
)

func main() {
	base := slog.NewJSONHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(logger.NewContextHandler(base)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer deps.DB.Close()
	defer deps.Embedder.Close()
	if deps.LLM != nil {
		defer deps.LLM.Close()
	}

	var llmGen agent.Generator
	if deps.LLM != nil {
		llmGen = deps.LLM
	}

	application, err := app.New(cfg, deps.DB, deps.VectorStore, deps.Embedder, deps.Embedder, llmGen, deps.NSQProducer)
	if err != nil {
		slog.Error("failed to assemble app", "error", err)
		os.Exit(1)
	}

	// Reindex consumer
	if cfg.EnableReindexWorker {
		consumer, err := nsq.NewConsumer(config.TopicReindex, "backend", nsq.NewConfig())
		if err != nil {
			slog.Error("failed to create reindex consumer", "error", err)
			os.Exit(1)
		}
		consumer.AddHandler(nsq.HandlerFunc(application.ReindexConsumer.HandleMessage))
		if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
			slog.Error("failed to connect reindex consumer to nsqlookupd", "error", err)
		} else {
			slog.Info("reindex consumer connected", "topic", config.TopicReindex)
		}
		defer consumer.Stop()
	}

	if !cfg.EnableAPI {
		slog.Info("api disabled, running worker only")
		<-ctx.Done()
		return
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: application.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", cfg.ServerPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
