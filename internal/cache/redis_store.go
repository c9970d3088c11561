package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/damsafe-io/damsafe/internal/config"
)

const (
	defaultScanCount  = 500
	deleteBatchSize   = 500
	defaultRedisTTL   = 10 * time.Minute
	defaultRedisURL   = "redis://localhost:6379/0"
	redisGlobSpecials = `*?[]\`
)

// ErrRedisURLInvalid is returned when REDIS_URL cannot be parsed.
var ErrRedisURLInvalid = errors.New("invalid redis URL")

// Config selects and configures the cache backend.
type Config struct {
	Backend    string        // "redis" or "memory"
	RedisURL   string        // redis://[:password@]host:port/db
	DefaultTTL time.Duration // TTL for cached reads
}

// LoadConfig reads CACHE_BACKEND, REDIS_URL and CACHE_TTL.
func LoadConfig() *Config {
	return &Config{
		Backend:    config.GetEnvStr("CACHE_BACKEND", "memory"),
		RedisURL:   config.GetEnvStr("REDIS_URL", defaultRedisURL),
		DefaultTTL: config.GetEnvDuration("CACHE_TTL", defaultRedisTTL),
	}
}

// NewStore builds the configured backend.
func NewStore(ctx context.Context, cfg *Config) (Store, error) {
	if !strings.EqualFold(cfg.Backend, "redis") {
		return NewMemoryStore(cfg.DefaultTTL), nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRedisURLInvalid, err)
	}

	store := NewRedisStore(redis.NewClient(opts))
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()

		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return store, nil
}

// RedisStore is a Store shared by every damsafe process through Redis.
type RedisStore struct {
	client redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client. The store owns the client after this call.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns (nil, false, nil) on a miss.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	return value, true, nil
}

// Set stores value with ttl. A zero ttl means no expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	return nil
}

// Delete removes the given keys.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// DeletePrefix walks the keyspace with SCAN MATCH and unlinks matches in batches.
// SCAN never blocks the server the way KEYS does.
func (s *RedisStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	iter := s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", defaultScanCount).Iterator()

	batch := make([]string, 0, deleteBatchSize)
	deleted := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		n, err := s.client.Unlink(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("redis unlink: %w", err)
		}

		deleted += int(n)
		batch = batch[:0]

		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())

		if len(batch) == deleteBatchSize {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}

	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan %s*: %w", prefix, err)
	}

	if err := flush(); err != nil {
		return deleted, err
	}

	return deleted, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// escapeGlob escapes Redis glob metacharacters so prefix is matched literally.
func escapeGlob(prefix string) string {
	var b strings.Builder

	for _, r := range prefix {
		if strings.ContainsRune(redisGlobSpecials, r) {
			b.WriteRune('\\')
		}

		b.WriteRune(r)
	}

	return b.String()
}
