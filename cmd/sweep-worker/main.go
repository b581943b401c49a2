package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openscribe/scribe-service/internal/config"
	"github.com/openscribe/scribe-service/internal/objectstore"
	"github.com/openscribe/scribe-service/internal/services/upload"
	"github.com/openscribe/scribe-service/internal/storage/postgres"
)

// sweepBatchSize caps how many stale sessions one tick processes so a
// large backlog cannot hold the loop for minutes.
const sweepBatchSize = 100

type SweepWorker struct {
	coordinator *upload.Coordinator
	interval    time.Duration
	logger      *slog.Logger
}

func NewSweepWorker(coordinator *upload.Coordinator, interval time.Duration) *SweepWorker {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	return &SweepWorker{
		coordinator: coordinator,
		interval:    interval,
		logger:      logger,
	}
}

func (sw *SweepWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("Sweep worker started",
		"interval", sw.interval.String())

	// Run once immediately on startup
	sw.sweepStaleUploads(ctx)

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("Sweep worker shutting down")
			return
		case <-ticker.C:
			sw.sweepStaleUploads(ctx)
		}
	}
}

func (sw *SweepWorker) sweepStaleUploads(ctx context.Context) {
	startTime := time.Now()

	sw.logger.Info("Starting stale upload sweep")

	count, err := sw.coordinator.ExpireStale(ctx, sweepBatchSize)
	if err != nil {
		sw.logger.Error("Failed to sweep stale uploads",
			"error", err.Error(),
			"duration_ms", time.Since(startTime).Milliseconds())
		return
	}

	duration := time.Since(startTime)

	sw.logger.Info("Completed stale upload sweep",
		"sessions_expired", count,
		"duration_ms", duration.Milliseconds(),
		"duration", duration.String())
}

func main() {
	// Load config
	cfg := config.MustLoad()

	// Initialize database connection
	storage, err := postgres.NewPostgres(cfg)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	slog.Info("Connected to Postgres database")

	// Initialize object store connection
	store, err := objectstore.NewMinioStore(cfg)
	if err != nil {
		log.Fatal("Failed to initialize object store:", err)
	}
	slog.Info("Connected to MinIO object store")

	coordinator := upload.NewCoordinator(store, storage, nil,
		cfg.Upload.PartSizeBytes,
		time.Duration(cfg.Upload.SessionTTLHours)*time.Hour,
		time.Duration(cfg.Upload.PresignedURLTTL)*time.Second)

	// Create worker with 5-minute interval
	worker := NewSweepWorker(coordinator, 5*time.Minute)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		slog.Info("Received shutdown signal")
		cancel()
	}()

	// Start the worker
	worker.Start(ctx)

	slog.Info("Sweep worker stopped")
}
