package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"labtrack/internal/lab"
)

// RedisSnapshot stores the snapshot document under a single key.
type RedisSnapshot struct {
	client *redis.Client
	key    string
}

// NewRedisSnapshot builds a store on an existing client.
func NewRedisSnapshot(client *redis.Client, key string) *RedisSnapshot {
	if key == "" {
		key = "labtrack:snapshot"
	}
	return &RedisSnapshot{client: client, key: key}
}

// Load returns the stored dataset, or an empty one when the key is missing.
func (r *RedisSnapshot) Load(ctx context.Context) (*lab.Dataset, error) {
	body, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return lab.NewDataset(), nil
	}
	if err != nil {
		return nil, ioErr("redis", "load", err)
	}
	ds, err := Decode(body)
	return ds, ioErr("redis", "load", err)
}

// Save overwrites the key.
func (r *RedisSnapshot) Save(ctx context.Context, ds *lab.Dataset) error {
	body, err := Encode(ds)
	if err != nil {
		return ioErr("redis", "save", err)
	}
	return ioErr("redis", "save", r.client.Set(ctx, r.key, body, 0).Err())
}
