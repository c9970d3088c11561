package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID    string  `json:"id"`
	Level float64 `json:"level"`
}

func TestLoad_ReadThrough(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := NewMemoryStore(time.Minute)
	loader := NewLoader(store, nil, time.Minute, discardLogger())

	calls := 0
	load := func(context.Context) (item, error) {
		calls++

		return item{ID: "inst-1", Level: 12.5}, nil
	}

	first, err := Load(t.Context(), loader, NamespaceReadingLatest, "inst-1", 0, load)
	require.NoError(t, err)

	second, err := Load(t.Context(), loader, NamespaceReadingLatest, "inst-1", 0, load)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
	assert.True(t, present(t, store, Key(NamespaceReadingLatest, "inst-1")))
}

func TestLoad_ErrorIsNotCached(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := NewMemoryStore(time.Minute)
	loader := NewLoader(store, nil, time.Minute, discardLogger())
	boom := errors.New("boom")

	_, err := Load(t.Context(), loader, NamespaceReadingLatest, "inst-1", 0, func(context.Context) (item, error) {
		return item{}, boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, store.Len())
}

func TestLoad_CorruptEntryIsReloaded(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := NewMemoryStore(time.Minute)
	loader := NewLoader(store, nil, time.Minute, discardLogger())
	key := Key(NamespaceReadingLatest, "inst-1")

	require.NoError(t, store.Set(t.Context(), key, []byte("{not json"), time.Minute))

	got, err := Load(t.Context(), loader, NamespaceReadingLatest, "inst-1", 0, func(context.Context) (item, error) {
		return item{ID: "inst-1"}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "inst-1", got.ID)
}

// A mutation committed while the load is in flight must not leave the pre-write value
// in the cache.
func TestLoad_SkipsSetWhenInvalidatedDuringLoad(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := NewMemoryStore(time.Minute)
	inv, err := NewInvalidator(store, WithLogger(discardLogger()))
	require.NoError(t, err)

	loader := NewLoader(store, inv, time.Minute, discardLogger())

	got, err := Load(t.Context(), loader, NamespaceReadingLatest, "inst-1", 0, func(ctx context.Context) (item, error) {
		inv.Invalidate(ctx, Mutation{Kind: MutationReadingIngested, ScopeID: "dam-1"})

		return item{ID: "stale"}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "stale", got.ID)
	assert.False(t, present(t, store, Key(NamespaceReadingLatest, "inst-1")))
}

// beforeSetStore runs hook ahead of every Set.
type beforeSetStore struct {
	*MemoryStore

	hook func(ctx context.Context)
}

func (s *beforeSetStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.hook != nil {
		s.hook(ctx)
	}

	return s.MemoryStore.Set(ctx, key, value, ttl)
}

// An invalidation landing between the generation check and the write must not leave
// the pre-write value cached.
func TestLoad_DropsEntryInvalidatedDuringSet(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := NewMemoryStore(time.Minute)
	inv, err := NewInvalidator(store, WithLogger(discardLogger()))
	require.NoError(t, err)

	racing := &beforeSetStore{MemoryStore: store}
	racing.hook = func(ctx context.Context) {
		racing.hook = nil
		inv.Invalidate(ctx, Mutation{Kind: MutationReadingIngested, ScopeID: "dam-1"})
	}

	loader := NewLoader(racing, inv, time.Minute, discardLogger())

	got, err := Load(t.Context(), loader, NamespaceReadingLatest, "inst-1", 0, func(context.Context) (item, error) {
		return item{ID: "stale"}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "stale", got.ID)
	assert.False(t, present(t, store, Key(NamespaceReadingLatest, "inst-1")))
}

func TestLoad_FreshReadAfterMutation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := NewMemoryStore(time.Minute)
	inv, err := NewInvalidator(store, WithLogger(discardLogger()))
	require.NoError(t, err)

	loader := NewLoader(store, inv, time.Minute, discardLogger())
	source := []item{{ID: "r1"}}
	key := ScopedKey("dam-1", "", "", "50", "0")

	list := func(context.Context) ([]item, error) {
		return append([]item(nil), source...), nil
	}

	before, err := Load(t.Context(), loader, NamespaceReadingsByDam, key, 0, list)
	require.NoError(t, err)
	require.Len(t, before, 1)

	source = append(source, item{ID: "r2"})
	inv.Invalidate(t.Context(), Mutation{Kind: MutationReadingIngested, ScopeID: "dam-1"})

	after, err := Load(t.Context(), loader, NamespaceReadingsByDam, key, 0, list)
	require.NoError(t, err)
	assert.Len(t, after, 2)
}
