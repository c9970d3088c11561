package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// GenerationSource reports a counter that changes whenever cached data may have
// become stale. *Invalidator implements it.
type GenerationSource interface {
	Generation() uint64
}

// Loader is a read-through cache for JSON-encodable values.
//
// A cache read error or a corrupt entry is treated as a miss. A value loaded while an
// invalidation ran in this process is returned but not cached.
type Loader struct {
	store      Store
	generation GenerationSource
	defaultTTL time.Duration
	logger     *slog.Logger
}

// NewLoader creates a Loader. generation may be nil, which disables the stale-write guard.
func NewLoader(store Store, generation GenerationSource, defaultTTL time.Duration, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}

	return &Loader{
		store:      store,
		generation: generation,
		defaultTTL: defaultTTL,
		logger:     logger,
	}
}

func (l *Loader) currentGeneration() uint64 {
	if l.generation == nil {
		return 0
	}

	return l.generation.Generation()
}

// Load returns the cached value for namespace/key or calls load and caches its result.
// A zero ttl uses the loader default. Errors from load are returned and never cached.
func Load[T any](
	ctx context.Context,
	l *Loader,
	namespace, key string,
	ttl time.Duration,
	load func(ctx context.Context) (T, error),
) (T, error) {
	fullKey := Key(namespace, key)

	raw, found, err := l.store.Get(ctx, fullKey)
	if err != nil {
		l.logger.Warn("Cache read failed, loading from source",
			slog.String("key", fullKey),
			slog.String("error", err.Error()))
	}

	if found {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}

		l.logger.Warn("Discarding corrupt cache entry", slog.String("key", fullKey))
	}

	before := l.currentGeneration()

	value, err := load(ctx)
	if err != nil {
		var zero T

		return zero, err
	}

	if l.currentGeneration() != before {
		return value, nil
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		l.logger.Warn("Value not cacheable", slog.String("key", fullKey), slog.String("error", err.Error()))

		return value, nil
	}

	if ttl <= 0 {
		ttl = l.defaultTTL
	}

	if err := l.store.Set(ctx, fullKey, encoded, ttl); err != nil {
		l.logger.Warn("Cache write failed",
			slog.String("key", fullKey),
			slog.String("error", err.Error()))

		return value, nil
	}

	// An invalidation may have run between the check above and the write.
	if l.currentGeneration() != before {
		if err := l.store.Delete(ctx, fullKey); err != nil {
			l.logger.Warn("Failed to drop stale cache entry",
				slog.String("key", fullKey),
				slog.String("error", err.Error()))
		}
	}

	return value, nil
}
