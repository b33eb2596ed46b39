package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/vtt-forge/internal/assembly"
	"github.com/jwebster45206/vtt-forge/internal/config"
	"github.com/jwebster45206/vtt-forge/internal/generator"
	"github.com/jwebster45206/vtt-forge/internal/handlers"
	"github.com/jwebster45206/vtt-forge/internal/logger"
	"github.com/jwebster45206/vtt-forge/internal/middleware"
	"github.com/jwebster45206/vtt-forge/internal/services"
	"github.com/jwebster45206/vtt-forge/internal/services/events"
	"github.com/jwebster45206/vtt-forge/internal/services/queue"
	"github.com/jwebster45206/vtt-forge/internal/storage"
	"github.com/jwebster45206/vtt-forge/pkg/schemas"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting VTT Forge API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"text_provider", cfg.TextProvider,
		"text_model", cfg.TextModel,
		"store_backend", cfg.StoreBackend)

	table, err := schemas.Default()
	if err != nil {
		log.Error("Failed to load kind templates", "error", err)
		os.Exit(1)
	}

	textOracle, err := services.NewTextOracle(cfg, log)
	if err != nil {
		log.Error("Failed to configure text oracle", "error", err)
		os.Exit(1)
	}
	imageOracle := services.NewImageOracle(cfg, log)

	storeCtx, storeCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer storeCancel()
	store, err := storage.Open(storeCtx, cfg, log)
	if err != nil {
		log.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	log.Info("Store connection established successfully")

	gen := generator.New(textOracle, imageOracle, table, log)
	pipeline := assembly.NewPipeline(gen, store, log)

	mux := http.NewServeMux()
	health := map[string]handlers.Pinger{"store": store}

	mux.Handle("/v1/generate", handlers.NewGenerateHandler(pipeline, log))

	// The job endpoints need Redis; the synchronous API works without it.
	queueCtx, queueCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer queueCancel()
	queueClient, err := queue.NewClient(queueCtx, cfg.RedisURL, log)
	if err != nil {
		log.Warn("Job queue unavailable; /v1/jobs and /v1/events disabled", "error", err)
	} else {
		defer func() {
			if err := queueClient.Close(); err != nil {
				log.Error("Error closing queue client", "error", err)
			}
		}()
		jobQueue := queue.NewJobQueue(queueClient, log)
		jobsHandler := handlers.NewJobsHandler(
			jobQueue,
			events.NewBroadcaster(queueClient.Redis(), log),
			log)
		mux.Handle("/v1/jobs", jobsHandler)
		mux.Handle("/v1/jobs/", jobsHandler)

		eventsHandler := handlers.NewEventsHandler(queueClient.Redis(), jobQueue, log)
		mux.Handle("/v1/events/jobs", eventsHandler)
		mux.Handle("/v1/events/jobs/", eventsHandler)
		health["queue"] = queueClient
	}

	mux.Handle("/health", handlers.NewHealthHandler(health, log))

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     middleware.Logger(log)(mux),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: synchronous generation can run for minutes
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	if err := store.Close(); err != nil {
		log.Error("Error closing store", "error", err)
	}

	log.Info("Server exited")
}
