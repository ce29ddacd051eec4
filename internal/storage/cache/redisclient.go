package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Get when the key holds no value.
var ErrCacheMiss = errors.New("cache miss")

const pingTimeout = 2 * time.Second

// RedisClient stores recipient lists as JSON values in Redis.
type RedisClient struct {
	rdb    *redis.Client
	addr   string
	logger *slog.Logger
}

// NewRedisClient connects and pings the server so a bad address fails at
// startup rather than on the first event.
func NewRedisClient(addr, password string, db int, logger *slog.Logger) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	log := logger.With("component", "RedisClient", "addr", addr, "db", db)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		log.Error("Redis ping failed", "err", err)
		return nil, fmt.Errorf("redis ping %s (db %d) failed: %w", addr, db, err)
	}
	log.Debug("Redis connected")

	return &RedisClient{rdb: rdb, addr: addr, logger: log}, nil
}

// Get decodes the JSON value stored at key into dest.
func (c *RedisClient) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		// A value written by an older layout is treated as absent.
		c.logger.Warn("Discarding undecodable cache entry", "key", key, "err", err)
		return ErrCacheMiss
	}
	return nil
}

func (c *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Del removes keys in one round trip. No keys is a no-op.
func (c *RedisClient) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del %v on %s: %w", keys, c.addr, err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}
