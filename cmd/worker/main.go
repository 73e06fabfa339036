package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"labtrack/internal/audit"
	"labtrack/internal/config"
	"labtrack/internal/queue"
	"labtrack/internal/store"
)

// Worker consumes lab events from the queue and records them in the audit log.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.QueueBackend != "redis" {
		log.Fatalf("worker needs QUEUE_BACKEND=redis, got %q", cfg.QueueBackend)
	}

	db, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	repo := audit.NewRepository(db.Client)
	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("audit migrate failed: %v", err)
	}

	redisClient := store.OpenRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !store.Probe(ctx, nil, redisClient).Redis {
		log.Println("WARNING: redis not reachable, consumer will keep retrying")
	}

	q := queue.NewRedisQueue(redisClient.Client, "")
	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	n := audit.Consume(ctx, messages, repo)
	log.Printf("worker stopped after recording %d events", n)
}
