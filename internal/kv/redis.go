// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AllClear Contributors

package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/allcleardev/allclear-service/internal/observability"
)

// compareAndDeleteScript deletes a key only if its value matches ARGV[1].
// Running as a script makes the read-compare-delete atomic on the server,
// which is what guarantees exactly-once ticket consumption.
var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements Store using Redis.
type RedisStore struct {
	client *redis.Client
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, oops.Code("KV_CONNECT_FAILED").
			With("addr", cfg.Addr).
			Wrap(err)
	}

	return &RedisStore{client: client}, nil
}

// unavailable marks a failed Redis call as a backing store outage.
func unavailable(operation string, err error) error {
	observability.RecordStoreOutage()
	return oops.Code("KV_UNAVAILABLE").
		With("operation", operation).
		Wrapf(ErrUnavailable, "redis %s: %v", operation, err)
}

// Get retrieves the value for key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, oops.Code("KV_NOT_FOUND").With("key", key).Wrap(ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return val, nil
}

// Set stores value under key with the given TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Delete removes key. Absent keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return unavailable("del", err)
	}
	return nil
}

// CompareAndDelete deletes key only if its current value equals expected.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	res, err := compareAndDeleteScript.Run(ctx, s.client, []string{key}, expected).Int()
	if err != nil {
		return false, unavailable("compare-and-delete", err)
	}
	return res == 1, nil
}

// Ping verifies the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the underlying client connections.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
