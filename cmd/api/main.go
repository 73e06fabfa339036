package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"labtrack/internal/audit"
	"labtrack/internal/auth"
	"labtrack/internal/config"
	"labtrack/internal/handler"
	"labtrack/internal/httpmiddleware"
	"labtrack/internal/lab"
	"labtrack/internal/metrics"
	"labtrack/internal/queue"
	"labtrack/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer db.Close()

	redisClient := store.OpenRedis(cfg.RedisAddr)
	defer redisClient.Close()

	snapshots, closeStore, err := openStore(ctx, cfg, db, redisClient)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := lab.NewService(nil, snapshots)
	seeded := restore(ctx, svc, cfg.SeedSample, time.Now())

	saver := newSaver(snapshots, svc, cfg.SaveDebounce)
	saverCtx, stopSaver := context.WithCancel(context.Background())
	go saver.Run(saverCtx)
	if seeded {
		saver.Request()
	}

	var q queue.Queue
	var auditRepo *audit.Repository
	if db != nil {
		auditRepo = audit.NewRepository(db.Client)
		if err := auditRepo.Migrate(ctx); err != nil {
			log.Printf("warning: audit migrate failed: %v", err)
			auditRepo = nil
		}
	}
	if cfg.QueueBackend == "redis" {
		q = queue.NewRedisQueue(redisClient.Client, "")
	} else {
		// the in-process queue is drained here, not by cmd/worker
		mem := queue.NewInMemory(256)
		q = mem
		msgs, _ := mem.Consume(ctx)
		var sink audit.Sink = audit.LogSink{}
		if auditRepo != nil {
			sink = auditRepo
		}
		go audit.Consume(ctx, msgs, sink)
	}

	dir, err := auth.DefaultDirectory(cfg.BcryptCost, cfg.DefaultPassword)
	if err != nil {
		return fmt.Errorf("user directory: %w", err)
	}

	var lister handler.AuditLister
	if auditRepo != nil {
		lister = auditRepo
	}
	h := handler.New(svc, dir, q, saver, lister, handler.Tokens{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		health := store.Probe(c.Request.Context(), db, redisClient)
		status := http.StatusOK
		if !health.Ready(cfg.StoreBackend, cfg.QueueBackend) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"status": "ok",
			"redis":  health.Redis,
			"db":     health.DB,
			"store":  cfg.StoreBackend,
			"labs":   len(svc.Snapshot().Labs),
		})
	})

	h.Register(r)

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s (store=%s queue=%s)", cfg.HTTPPort, cfg.StoreBackend, cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	// flush the last snapshot before the store closes
	saver.Request()
	stopSaver()
	select {
	case <-saver.Done():
	case <-shutdownCtx.Done():
		log.Println("snapshot flush timed out")
	}

	log.Println("Server exited")
	return nil
}

// restore loads the dataset and seeds the sample data into an empty store.
// It reports whether the seeded dataset should be persisted. After a failed
// load nothing is seeded and the service stays in its failed-load state.
func restore(ctx context.Context, svc *lab.Service, seed bool, now time.Time) bool {
	if err := svc.Load(ctx); err != nil {
		log.Printf("warning: starting with empty dataset, background saves held: %v", err)
		return false
	}
	if !seed || len(svc.Snapshot().Labs) > 0 {
		return false
	}
	svc.Replace(lab.SampleDataset(now))
	log.Println("seeded sample dataset")
	return true
}

// newSaver builds the background saver. It holds off while the service runs
// on a failed-load fallback so the stored snapshot is not overwritten.
func newSaver(st lab.Snapshotter, svc *lab.Service, debounce time.Duration) *store.Saver {
	saver := store.NewSaver(st, svc.Snapshot, debounce)
	saver.HoldWhile(svc.LoadFailed)
	saver.OnSave(func(err error) {
		metrics.SnapshotSaves.WithLabelValues(metrics.Result(err)).Inc()
	})
	return saver
}

// openStore picks the snapshot backend named by STORE_BACKEND.
func openStore(ctx context.Context, cfg config.App, db *store.DB, rdb *store.Redis) (lab.Snapshotter, func(), error) {
	noop := func() {}
	switch cfg.StoreBackend {
	case "postgres":
		if db == nil {
			return nil, noop, fmt.Errorf("postgres store needs a reachable DATABASE_URL")
		}
		pg, err := store.NewPostgres(ctx, db.Client, cfg.SnapshotKey)
		if err != nil {
			return nil, noop, err
		}
		return pg, noop, nil
	case "sqlite":
		lite, err := store.NewSQLite(cfg.SQLitePath, cfg.SnapshotKey)
		if err != nil {
			return nil, noop, err
		}
		return lite, func() { _ = lite.Close() }, nil
	case "redis":
		return store.NewRedisSnapshot(rdb.Client, cfg.SnapshotKey), noop, nil
	case "memory", "":
		return store.NewMemory(), noop, nil
	}
	return nil, noop, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
