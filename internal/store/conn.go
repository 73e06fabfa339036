package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

// DB is the Postgres pool shared by the snapshot store and the audit log.
type DB struct {
	Client *sql.DB
}

// OpenPostgres opens a pgx-backed pool and checks it answers within five
// seconds. An unreachable server yields an IOError and no pool.
func OpenPostgres(ctx context.Context, dsn string) (*DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, ioErr("postgres", "connect", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, ioErr("postgres", "connect", err)
	}
	return &DB{Client: db}, nil
}

// Close is safe on a nil DB.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// Redis carries the client used by the queue and the Redis snapshot store.
type Redis struct {
	Client *redis.Client
}

// OpenRedis builds a lazily connecting client with short timeouts.
func OpenRedis(addr string) *Redis {
	return &Redis{Client: redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})}
}

// Close is safe on a nil Redis.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

// Health is the reachability of the backing services.
type Health struct {
	DB    bool `json:"db"`
	Redis bool `json:"redis"`
}

// Probe pings whichever backends are configured; nil ones report false.
func Probe(ctx context.Context, db *DB, rdb *Redis) Health {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	var h Health
	if db != nil && db.Client != nil {
		h.DB = db.Client.PingContext(ctx) == nil
	}
	if rdb != nil && rdb.Client != nil {
		h.Redis = rdb.Client.Ping(ctx).Err() == nil
	}
	return h
}

// Ready reports whether every backend the chosen store and queue depend on
// is reachable.
func (h Health) Ready(storeBackend, queueBackend string) bool {
	if storeBackend == "postgres" && !h.DB {
		return false
	}
	if (storeBackend == "redis" || queueBackend == "redis") && !h.Redis {
		return false
	}
	return true
}
