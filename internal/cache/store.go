// Package cache provides the read-cache store and the invalidation fan-out that keeps
// it consistent with writes.
//
// Keys are namespaced as "<namespace>::<key>". Read paths cache under a namespace;
// mutators never address keys directly but report a Mutation to the Invalidator, which
// looks up the affected namespaces in a declared Policy and deletes them synchronously.
package cache

import (
	"context"
	"strings"
	"time"
)

// Separator joins a namespace and a key.
const Separator = "::"

// scopeSeparator separates the scope id from the remaining parameters of a
// parameterized key.
const scopeSeparator = ":"

// Store is the cache backend contract.
//
// DeletePrefix must remove every key starting with prefix, including keys written by
// other processes. It returns the number of keys removed.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Ping(ctx context.Context) error
}

// Key builds the wire key for key inside namespace.
//
// Example:
//
//	cache.Key("reading_latest", "inst-42") // "reading_latest::inst-42"
func Key(namespace, key string) string {
	return namespace + Separator + key
}

// ScopedKey builds a parameterized key whose first segment is the scope id, so a
// scoped invalidation can remove every parameterization for that scope at once.
//
// Example:
//
//	cache.ScopedKey("dam-7", "2024-05-01", "2024-05-31", "50", "0") // "dam-7:2024-05-01:2024-05-31:50:0"
func ScopedKey(scopeID string, params ...string) string {
	return scopeID + scopeSeparator + strings.Join(params, scopeSeparator)
}

// NamespacePrefix is the prefix shared by every key of namespace.
func NamespacePrefix(namespace string) string {
	return namespace + Separator
}
