// Package main is the entry point for the docplane controller: the HTTP API
// plus the processing engine that runs processes and asset preprocessing.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docplane/internal/config"
	"docplane/internal/controller"
	"docplane/internal/controller/middleware"
	"docplane/internal/extraction"
	"docplane/internal/logger"
	"docplane/internal/observability"
	"docplane/internal/processing"
	"docplane/internal/store/postgres"
	"docplane/internal/vectorstore"

	"go.opentelemetry.io/otel"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to an optional config file")
	flag.Parse()

	// Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx := context.Background()

	// Connect to Postgres (the "Store")
	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("Failed to connect to DB", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Run migrations if requested
	if *migrateFlag {
		log.Info("Running database migrations")
		if err := postgres.Migrate(store.DB()); err != nil {
			log.Error("Migration failed", "error", err)
			os.Exit(1)
		}
		log.Info("Migrations completed successfully")
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, observability.TracingConfig{
		ServiceName: "docplane-controller",
		Endpoint:    cfg.OTELEndpoint,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		log.Error("Failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("Failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics("docplane-controller")
	if err != nil {
		log.Error("Failed to init metrics", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("Failed to shutdown metrics", "error", err)
		}
	}()

	meter := otel.Meter("docplane-controller")
	pipelineMetrics, err := observability.NewPipelineMetrics(meter)
	if err != nil {
		log.Warn("Failed to register pipeline metrics", "error", err)
	}

	// External services
	extractor := extraction.NewClient(cfg.ExtractionURL, cfg.ExtractionAPIKey,
		extraction.WithTimeout(cfg.ExtractionTimeout),
		extraction.WithRateLimit(cfg.ExtractionRateLimit, 1),
	)
	vectors := vectorstore.NewClient(cfg.VectorStoreURL, cfg.SearchThreshold)

	engine := processing.NewEngine(store, extractor, vectors, pipelineMetrics, log, processing.Config{
		MaxRetries:         cfg.MaxRetries,
		ProcessConcurrency: cfg.ProcessConcurrency,
		StepConcurrency:    cfg.StepConcurrency,
		SchedulerInterval:  cfg.SchedulerInterval,
		UploadDir:          cfg.UploadDir,
	})

	// Queue depth is read from memory only when scraped
	if err := observability.RegisterQueueDepth(meter, engine.QueueDepth); err != nil {
		log.Warn("Failed to register queue depth metric", "error", err)
	}

	if err := engine.Recover(ctx); err != nil {
		log.Error("Failed to recover unfinished work", "error", err)
	}

	// Start Server
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	limiter := middleware.NewRateLimiter(middleware.WithLimit(cfg.APIRateLimit, cfg.APIRateBurst))
	srv := controller.New(addr, store, engine, metricsHandler, log, limiter)

	go func() {
		log.Info("docplane controller starting", "addr", addr)
		if err := srv.Run(ctx); err != nil {
			log.Error("Server stopped", "error", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down controller")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Warn("Engine did not drain in time, in-flight work cancelled", "error", err)
	}
	log.Info("Controller exited properly")
}
