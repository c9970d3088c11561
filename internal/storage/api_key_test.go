package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseAPIKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	key, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.Len(t, key, apiKeyLength)
	assert.True(t, strings.HasPrefix(key, APIKeyPrefix))

	other, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)

	parsed, err := ParseAPIKey(key)
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	tests := []struct {
		name string
		key  string
		want error
	}{
		{name: "empty", key: "", want: ErrKeyStringEmpty},
		{name: "foreign prefix", key: "acme_ak_" + strings.Repeat("a", 67), want: ErrInvalidKeyFormat},
		{name: "short", key: APIKeyPrefix + "abcd", want: ErrInvalidKeyLength},
		{name: "not hex", key: APIKeyPrefix + strings.Repeat("z", 64), want: ErrInvalidKeyFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAPIKey(tt.key)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHashAPIKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	key, err := GenerateAPIKey()
	require.NoError(t, err)

	hash, err := HashAPIKey(key)
	require.NoError(t, err)
	assert.NotContains(t, hash, key)

	other, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, CompareAPIKeyHash(hash, key))
	assert.False(t, CompareAPIKeyHash(hash, other))
	assert.False(t, CompareAPIKeyHash("", key))
	assert.False(t, CompareAPIKeyHash(hash, ""))

	_, err = HashAPIKey("")
	require.ErrorIs(t, err, ErrKeyNil)
}

func TestMaskKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	key := APIKeyPrefix + "1234" + strings.Repeat("0", 56) + "wxyz"
	masked := MaskKey(key)

	assert.Len(t, masked, len(key))
	assert.True(t, strings.HasPrefix(masked, APIKeyPrefix+"1234*"))
	assert.True(t, strings.HasSuffix(masked, "*wxyz"))
	assert.Equal(t, "*****", MaskKey("short"))
	assert.Empty(t, MaskKey(""))
}

func TestSecureCompare(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	assert.True(t, SecureCompare("abc", "abc"))
	assert.False(t, SecureCompare("abc", "abd"))
	assert.False(t, SecureCompare("abc", "abcd"))
}

func TestAPIKey_RolesAndExpiry(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	k := &APIKey{ID: "ops", Roles: []string{"admin", "reader"}, KeyHash: "x", ExpiresAt: &past}
	assert.True(t, k.HasRole("admin"))
	assert.False(t, k.HasRole("owner"))
	assert.True(t, k.Expired(now))
	assert.False(t, (&APIKey{}).Expired(now))

	require.NoError(t, k.Validate())
	require.ErrorIs(t, (&APIKey{KeyHash: "x"}).Validate(), ErrKeyIDEmpty)
	require.ErrorIs(t, (&APIKey{ID: "ops"}).Validate(), ErrKeyHashEmpty)
}

func TestKeyStore(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	key, err := GenerateAPIKey()
	require.NoError(t, err)

	hash, err := HashAPIKey(key)
	require.NoError(t, err)

	store, err := NewKeyStore(&APIKey{ID: "ops", Name: "Operations", Roles: []string{"admin"}, KeyHash: hash, Active: true})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())

	found, ok := store.FindByKey(key)
	require.True(t, ok)
	assert.Equal(t, "ops", found.ID)

	found.Roles[0] = "changed"
	found.Name = "changed"

	again, ok := store.FindByKey(key)
	require.True(t, ok, "second lookup is served from the verified cache")
	assert.Equal(t, "Operations", again.Name)
	assert.Equal(t, []string{"admin"}, again.Roles)

	other, err := GenerateAPIKey()
	require.NoError(t, err)

	_, ok = store.FindByKey(other)
	assert.False(t, ok)

	_, ok = store.FindByKey("")
	assert.False(t, ok)

	_, err = NewKeyStore(
		&APIKey{ID: "a", KeyHash: hash},
		&APIKey{ID: "a", KeyHash: hash},
	)
	require.ErrorIs(t, err, ErrDuplicateKeyID)
}

func TestLoadKeyFile(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	key, err := GenerateAPIKey()
	require.NoError(t, err)

	hash, err := HashAPIKey(key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keys.yaml")
	content := "keys:\n" +
		"  - id: ops\n" +
		"    name: Operations\n" +
		"    roles: [admin]\n" +
		"    keyHash: \"" + hash + "\"\n" +
		"    expiresAt: 2099-01-01T00:00:00Z\n" +
		"  - id: retired\n" +
		"    keyHash: \"" + hash + "x\"\n" +
		"    disabled: true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	store, err := LoadKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())

	found, ok := store.FindByKey(key)
	require.True(t, ok)
	assert.Equal(t, "ops", found.ID)
	assert.True(t, found.Active)
	assert.True(t, found.HasRole("admin"))
	require.NotNil(t, found.ExpiresAt)
	assert.Equal(t, 2099, found.ExpiresAt.Year())

	retired := store.byID("retired")
	require.NotNil(t, retired)
	assert.False(t, retired.Active)

	_, err = LoadKeyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("keys:\n  - id: x\n"), 0o600))

	_, err = LoadKeyFile(bad)
	require.ErrorIs(t, err, ErrKeyHashEmpty)
}
