package readings

import (
	"context"
	"strconv"
	"time"

	"github.com/damsafe-io/damsafe/internal/cache"
)

// Reader serves the cached read paths. Entries are cleared by the
// MutationReadingIngested rules of the cache policy.
type Reader struct {
	store  Store
	loader *cache.Loader
	ttl    time.Duration
}

// NewReader creates a Reader. A zero ttl uses the loader default.
func NewReader(store Store, loader *cache.Loader, ttl time.Duration) *Reader {
	return &Reader{store: store, loader: loader, ttl: ttl}
}

// ListByDam returns one page of a dam's readings.
func (r *Reader) ListByDam(ctx context.Context, q Query) ([]*Reading, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}

	key := cache.ScopedKey(q.DamID, boundKey(q.From), boundKey(q.To),
		strconv.Itoa(q.Limit), strconv.Itoa(q.Offset))

	return cache.Load(ctx, r.loader, cache.NamespaceReadingsByDam, key, r.ttl,
		func(ctx context.Context) ([]*Reading, error) {
			list, err := r.store.ListByDam(ctx, q)
			if err != nil {
				return nil, err
			}

			if list == nil {
				list = []*Reading{}
			}

			return list, nil
		})
}

// Latest returns an instrument's newest reading or ErrNotFound.
func (r *Reader) Latest(ctx context.Context, instrumentID string) (*Reading, error) {
	return cache.Load(ctx, r.loader, cache.NamespaceReadingLatest, instrumentID, r.ttl,
		func(ctx context.Context) (*Reading, error) {
			return r.store.Latest(ctx, instrumentID)
		})
}

func boundKey(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return FormatDay(t)
}
