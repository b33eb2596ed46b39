package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/vtt-forge/internal/assembly"
	"github.com/jwebster45206/vtt-forge/internal/config"
	"github.com/jwebster45206/vtt-forge/internal/generator"
	"github.com/jwebster45206/vtt-forge/internal/logger"
	"github.com/jwebster45206/vtt-forge/internal/services"
	"github.com/jwebster45206/vtt-forge/internal/services/events"
	"github.com/jwebster45206/vtt-forge/internal/services/queue"
	"github.com/jwebster45206/vtt-forge/internal/storage"
	"github.com/jwebster45206/vtt-forge/internal/worker"
	"github.com/jwebster45206/vtt-forge/pkg/schemas"
)

// jobTimeout bounds one job: a text call, a render and, for encounters,
// one more text call and render per member.
const jobTimeout = 15 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting VTT Forge Worker",
		"environment", cfg.Environment,
		"redis_url", cfg.RedisURL,
		"store_backend", cfg.StoreBackend)

	queueCtx, queueCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer queueCancel()
	queueClient, err := queue.NewClient(queueCtx, cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create queue client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			log.Error("Error closing queue client", "error", err)
		}
	}()
	jobQueue := queue.NewJobQueue(queueClient, log)
	log.Info("Queue service initialized successfully")

	store, err := storage.Open(queueCtx, cfg, log)
	if err != nil {
		log.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing store", "error", err)
		}
	}()
	log.Info("Store initialized successfully")

	textOracle, err := services.NewTextOracle(cfg, log)
	if err != nil {
		log.Error("Failed to configure text oracle", "error", err)
		os.Exit(1)
	}
	gen := generator.New(textOracle, services.NewImageOracle(cfg, log), schemas.MustDefault(), log)
	pipeline := assembly.NewPipeline(gen, store, log)

	processor := worker.NewJobProcessor(pipeline, jobTimeout, log)
	w := worker.New(jobQueue, processor, events.NewBroadcaster(queueClient.Redis(), log), log, cfg.WorkerID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Start(); err != nil {
			log.Error("Worker error", "error", err)
		}
	}()

	log.Info("Worker started, waiting for jobs...", "worker_id", w.ID())

	<-quit
	log.Info("Worker shutdown signal received")
	w.Stop()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warn("Worker did not stop in time")
	}

	log.Info("Worker exited")
}
