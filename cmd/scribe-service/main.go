package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/openscribe/scribe-service/internal/cache"
	"github.com/openscribe/scribe-service/internal/config"
	"github.com/openscribe/scribe-service/internal/events"
	jobHandlers "github.com/openscribe/scribe-service/internal/http/handlers/jobs"
	"github.com/openscribe/scribe-service/internal/http/handlers/uploads"
	"github.com/openscribe/scribe-service/internal/http/handlers/usage"
	"github.com/openscribe/scribe-service/internal/http/handlers/ws"
	"github.com/openscribe/scribe-service/internal/http/middleware"
	"github.com/openscribe/scribe-service/internal/objectstore"
	"github.com/openscribe/scribe-service/internal/plans"
	"github.com/openscribe/scribe-service/internal/queue"
	"github.com/openscribe/scribe-service/internal/quota"
	jobService "github.com/openscribe/scribe-service/internal/services/jobs"
	"github.com/openscribe/scribe-service/internal/services/transcript"
	"github.com/openscribe/scribe-service/internal/services/upload"
	"github.com/openscribe/scribe-service/internal/storage/postgres"
	"github.com/openscribe/scribe-service/internal/websocket"
)

func main() {
	// load config
	cfg := config.MustLoad()

	// database setup
	storage, err := postgres.NewPostgres(cfg)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	slog.Info("Connected to Postgres database")

	// redis setup
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	slog.Info("Connected to Redis")

	// object store setup
	store, err := objectstore.NewMinioStore(cfg)
	if err != nil {
		log.Fatal("Failed to initialize object store:", err)
	}
	slog.Info("Connected to MinIO object store")

	// websocket hub and event fanout
	hub := websocket.NewHub()
	publisher := events.NewEventPublisher(hub)

	// domain services
	guard := quota.NewGuard(redisClient)
	resolver := plans.NewResolver(storage, redisClient)
	taskQueue := queue.NewQueue(redisClient)

	coordinator := upload.NewCoordinator(store, storage, publisher,
		cfg.Upload.PartSizeBytes,
		time.Duration(cfg.Upload.SessionTTLHours)*time.Hour,
		time.Duration(cfg.Upload.PresignedURLTTL)*time.Second)

	jobSvc := jobService.NewService(storage, guard, resolver, taskQueue, publisher)
	transcriptCache := cache.NewTranscriptCache(storage, redisClient)
	transcriptSvc := transcript.NewService(storage, publisher, transcriptCache)

	// handlers
	uploadH := uploads.NewUploadHandlers(coordinator, resolver)
	jobH := jobHandlers.NewJobHandlers(jobSvc, transcriptSvc)
	usageH := usage.NewUsageHandlers(resolver, guard)

	// middleware
	auth := middleware.AuthMiddleware(cfg.JWTSecret)
	engineAuth := middleware.EngineAuth(cfg.EngineToken)
	rlc := middleware.NewRateLimitConfig(redisClient)

	protected := func(action string, h http.HandlerFunc) http.Handler {
		return auth(rlc.RateLimitMiddleware(action)(h))
	}

	// setup server
	router := http.NewServeMux()

	router.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	// uploads
	router.Handle("POST /uploads", protected(middleware.ActionUploads, uploadH.Initiate()))
	router.Handle("GET /uploads/{upload_id}/parts/{part_number}/url", protected(middleware.ActionUploads, uploadH.PartURL()))
	router.Handle("POST /uploads/{upload_id}/parts/{part_number}/complete", protected(middleware.ActionUploads, uploadH.RecordPart()))
	router.Handle("POST /uploads/{upload_id}/complete", protected(middleware.ActionUploads, uploadH.Complete()))
	router.Handle("POST /uploads/{upload_id}/abort", protected(middleware.ActionUploads, uploadH.Abort()))

	// jobs
	router.Handle("POST /jobs", protected(middleware.ActionJobs, jobH.Create()))
	router.Handle("GET /jobs", auth(jobH.List()))
	router.Handle("GET /jobs/{job_id}", auth(jobH.Get()))
	router.Handle("POST /jobs/{job_id}/cancel", auth(jobH.Cancel()))
	router.Handle("POST /jobs/{job_id}/translate", protected(middleware.ActionJobs, jobH.Translate()))

	// transcripts
	router.Handle("GET /jobs/{job_id}/segments", auth(jobH.Segments()))
	router.Handle("PATCH /jobs/{job_id}/segments/{segment_id}", protected(middleware.ActionEdits, jobH.EditSegment()))
	router.Handle("POST /jobs/{job_id}/segments/{segment_id}/revert", protected(middleware.ActionEdits, jobH.RevertSegment()))

	// usage
	router.Handle("GET /usage/me", auth(usageH.Me()))

	// engine callbacks
	router.Handle("POST /internal/jobs/{job_id}/started", engineAuth(jobH.EngineStarted()))
	router.Handle("POST /internal/jobs/{job_id}/complete", engineAuth(jobH.EngineComplete()))
	router.Handle("POST /internal/jobs/{job_id}/fail", engineAuth(jobH.EngineFail()))

	// websocket
	router.HandleFunc("GET /ws", ws.Handler(hub, cfg.JWTSecret))

	server := http.Server{
		Addr:    cfg.HTTPServer.Address,
		Handler: router,
	}

	log.Println("server started on", cfg.HTTPServer.Address)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %s", err)
		}
	}()

	<-done

	slog.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = server.Shutdown(ctx)
	if err != nil {
		slog.Error("failed to gracefully shutdown server", slog.String("error", err.Error()))
		return
	}

	slog.Info("Server stopped")
}
