package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/calliope-ai/calliope/internal/chain"
	"github.com/calliope-ai/calliope/internal/config"
	"github.com/calliope-ai/calliope/internal/docjob"
	"github.com/calliope-ai/calliope/internal/objectstore"
	"github.com/calliope-ai/calliope/internal/provider"
	"github.com/calliope-ai/calliope/internal/provider/anthropic"
	"github.com/calliope-ai/calliope/internal/provider/openai"
	"github.com/calliope-ai/calliope/internal/queue"
	"github.com/calliope-ai/calliope/internal/server"
	"github.com/calliope-ai/calliope/internal/storage/sqldb"
	"github.com/calliope-ai/calliope/internal/telemetry"
	"github.com/calliope-ai/calliope/internal/transport"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	shutdown, err := telemetry.InitTracer("calliope", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Register built-in providers
	openai.RegisterFactory()
	anthropic.RegisterFactory()

	registry, err := provider.NewRegistry(cfg.Providers)
	if err != nil {
		log.Fatalf("Invalid provider configuration: %v", err)
	}

	store, err := sqldb.New(sqldb.Config{Driver: cfg.Storage.Driver, DSN: cfg.Storage.DSN})
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	engine := chain.New(registry, store, chain.WithLogger(logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The document pipeline is optional; without an object store and queue
	// the chat surface still runs.
	var documents *docjob.Service
	var q *queue.Queue
	if cfg.ObjectStore.Endpoint != "" && cfg.Queue.URL != "" {
		objects, err := objectstore.New(ctx, cfg.ObjectStore)
		if err != nil {
			log.Fatalf("Failed to connect to object store: %v", err)
		}
		q, err = queue.New(cfg.Queue, logger)
		if err != nil {
			log.Fatalf("Failed to connect to queue: %v", err)
		}
		defer q.Close()

		documents = docjob.New(store, objects, q, cfg.Documents, logger)
		if err := q.SubscribeStatus(func(update queue.StatusUpdate) {
			if err := documents.ApplyStatusUpdate(ctx, update); err != nil {
				logger.Error("failed to apply status update",
					slog.String("job_id", update.JobID),
					slog.String("error", err.Error()))
			}
		}); err != nil {
			log.Fatalf("Failed to subscribe to status updates: %v", err)
		}
	} else {
		logger.Warn("object store or queue not configured, document routes disabled")
	}

	srv := server.New(cfg.Server.Port, cfg.Server.RequestTimeout, logger)
	handler := transport.NewHandler(engine, registry, store, documents, cfg.Streaming, logger)
	handler.Routes(srv.Router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-sigChan:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}
}
