package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridianhq/meridian/internal/ai"
	"github.com/meridianhq/meridian/internal/config"
	"github.com/meridianhq/meridian/internal/database"
	"github.com/meridianhq/meridian/internal/handler"
	"github.com/meridianhq/meridian/internal/notify"
	"github.com/meridianhq/meridian/internal/pipeline"
	"github.com/meridianhq/meridian/internal/process"
	"github.com/meridianhq/meridian/internal/realtime"
	"github.com/meridianhq/meridian/internal/scheduler"
	"github.com/meridianhq/meridian/internal/service"
	"github.com/meridianhq/meridian/internal/worker"
	"github.com/meridianhq/meridian/pkg/middleware"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	config.InitLogger(cfg)

	slog.Info("Starting Meridian Analysis Service", "version", version)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to MongoDB
	db, err := database.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoTimeout)
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Disconnect(context.Background()); err != nil {
			slog.Error("Failed to disconnect from MongoDB", "error", err)
		}
	}()

	// Create indexes
	if err := database.CreateIndexes(ctx, db); err != nil {
		slog.Error("Failed to create indexes", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	analysisRepo := database.NewAnalysisRepository(db)
	runRepo := database.NewRunRepository(db)
	notificationRepo := database.NewNotificationRepository(db)
	lockRepo := database.NewLockRepository(db)

	// Initialize the state machine and realtime fan-out
	machine := process.NewMachine()
	registry := realtime.NewRegistry()
	rtDispatcher := realtime.NewDispatcher(registry)
	rtDispatcher.Bind(machine)

	// Initialize HTTP client and notification dispatcher
	httpClient := service.NewHTTPClient(cfg.DefaultSourceTimeout)
	notifyDispatcher := notify.NewDispatcher(cfg.DefaultWebhookTimeout)

	// AI summaries are optional; without an API key reports are built bare
	var summarizer pipeline.Summarizer
	if cfg.OpenAIAPIKey != "" {
		summarizer = ai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		slog.Info("AI summarization enabled", "model", cfg.OpenAIModel)
	}

	// Initialize pipeline runner
	runner := pipeline.NewRunner(
		httpClient,
		machine,
		summarizer,
		notifyDispatcher,
		analysisRepo,
		runRepo,
		notificationRepo,
	)

	// Initialize worker pool
	pool := worker.NewWorkerPool(cfg.WorkerPoolSize, cfg.MaxConcurrentJobs)
	pool.SetExecutor(func(jobCtx context.Context, analysisID, correlationID string) (interface{}, error) {
		return runner.Execute(jobCtx, analysisID, correlationID, "api")
	})
	pool.Start()

	// Initialize services
	analysisService := service.NewAnalysisService(analysisRepo, runRepo, machine, registry, pool)
	runService := service.NewRunService(runRepo)

	// Initialize scheduler
	sched := scheduler.NewScheduler(cfg, runner, machine, lockRepo, analysisRepo)
	sched.Start(ctx)

	// Initialize handlers
	analysisHandler := handler.NewAnalysisHandler(analysisService)
	runHandler := handler.NewRunHandler(runService)
	wsHandler := handler.NewWSHandler(analysisService, registry, realtime.ConnOptions{
		WriteWait:  cfg.WSWriteWait,
		PongWait:   cfg.WSPongWait,
		SendBuffer: cfg.WSSendBuffer,
		ReadLimit:  cfg.WSReadLimit,
	})
	healthHandler := handler.NewHealthHandler(db, registry, version)

	// Create CORS config
	corsConfig := middleware.CORSConfig{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   cfg.CORSAllowedMethods,
		AllowedHeaders:   cfg.CORSAllowedHeaders,
		AllowCredentials: cfg.CORSAllowCredentials,
		MaxAge:           cfg.CORSMaxAge,
	}

	// Create router
	router := handler.NewRouter(
		analysisHandler,
		runHandler,
		wsHandler,
		healthHandler,
		corsConfig,
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	// Start server in goroutine
	go func() {
		slog.Info("Starting HTTP server", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("Received shutdown signal, initiating graceful shutdown")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop scheduler first (wait for in-flight runs)
	slog.Info("Stopping scheduler...")
	sched.Stop(shutdownCtx)

	// Stop the worker pool (drains queued runs)
	slog.Info("Stopping worker pool...")
	pool.Stop()

	// Drop live subscriber connections
	slog.Info("Closing websocket connections...")
	registry.CloseAll()

	// Shutdown HTTP server
	slog.Info("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Meridian Analysis Service stopped")
}
