package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_DeletePrefix(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := NewMemoryStore(time.Minute)
	seed(t, store, "a::1", "a::2", "ab::1", "b::1")

	n, err := store.DeletePrefix(t.Context(), "a::")
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, 2, store.Len())
	assert.True(t, present(t, store, "ab::1"))
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := NewMemoryStore(time.Minute)
	require.NoError(t, store.Set(t.Context(), "k", []byte("abc"), 0))

	got, found, err := store.Get(t.Context(), "k")
	require.NoError(t, err)
	require.True(t, found)

	got[0] = 'z'

	again, _, _ := store.Get(t.Context(), "k")
	assert.Equal(t, "abc", string(again))
}

func TestMemoryStore_Expiry(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := NewMemoryStore(time.Minute)
	require.NoError(t, store.Set(t.Context(), "k", []byte("v"), 10*time.Millisecond))

	time.Sleep(30 * time.Millisecond)

	assert.False(t, present(t, store, "k"))
}

func TestKeys(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	assert.Equal(t, "reading_latest::inst-42", Key("reading_latest", "inst-42"))
	assert.Equal(t, "dam-7:2024-05-01:50", ScopedKey("dam-7", "2024-05-01", "50"))
	assert.Equal(t, "readings_by_dam::", NamespacePrefix(NamespaceReadingsByDam))
}

func TestEscapeGlob(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	assert.Equal(t, `ns::dam\*1\?`, escapeGlob("ns::dam*1?"))
	assert.Equal(t, `plain::`, escapeGlob("plain::"))
}
