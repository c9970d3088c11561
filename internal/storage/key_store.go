package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"gopkg.in/yaml.v3"
)

const (
	verifiedKeyTTL     = 5 * time.Minute
	verifiedKeyCleanup = 10 * time.Minute
)

var _ APIKeyStore = (*KeyStore)(nil)

// keyFile is the YAML layout of API_KEYS_FILE:
//
//	keys:
//	  - id: ops
//	    name: Operations team
//	    roles: [admin]
//	    keyHash: $2a$10$...
//	    expiresAt: 2027-01-01T00:00:00Z
//	    disabled: false
type keyFile struct {
	Keys []keyFileEntry `yaml:"keys"`
}

type keyFileEntry struct {
	ID        string     `yaml:"id"`
	Name      string     `yaml:"name"`
	Roles     []string   `yaml:"roles"`
	KeyHash   string     `yaml:"keyHash"`
	ExpiresAt *time.Time `yaml:"expiresAt"`
	Disabled  bool       `yaml:"disabled"`
}

// KeyStore holds a fixed set of API key records. A presented key is compared against
// every record's bcrypt hash, so successful matches are remembered for a few minutes
// under the SHA-256 of the key.
type KeyStore struct {
	keys     []*APIKey
	verified *gocache.Cache
}

// NewKeyStore creates a store over keys.
func NewKeyStore(keys ...*APIKey) (*KeyStore, error) {
	seen := make(map[string]bool, len(keys))
	stored := make([]*APIKey, 0, len(keys))

	for _, k := range keys {
		if err := k.Validate(); err != nil {
			return nil, err
		}

		if seen[k.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKeyID, k.ID)
		}

		seen[k.ID] = true

		stored = append(stored, k.clone())
	}

	return &KeyStore{
		keys:     stored,
		verified: gocache.New(verifiedKeyTTL, verifiedKeyCleanup),
	}, nil
}

// LoadKeyFile reads API key records from a YAML file.
func LoadKeyFile(path string) (*KeyStore, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read API key file: %w", err)
	}

	var file keyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse API key file %s: %w", path, err)
	}

	keys := make([]*APIKey, 0, len(file.Keys))
	for _, entry := range file.Keys {
		keys = append(keys, &APIKey{
			ID:        entry.ID,
			Name:      entry.Name,
			Roles:     entry.Roles,
			KeyHash:   entry.KeyHash,
			ExpiresAt: entry.ExpiresAt,
			Active:    !entry.Disabled,
		})
	}

	return NewKeyStore(keys...)
}

// FindByKey returns a copy of the record whose hash matches key.
func (s *KeyStore) FindByKey(key string) (*APIKey, bool) {
	if key == "" {
		return nil, false
	}

	fingerprint := keyFingerprint(key)

	if id, ok := s.verified.Get(fingerprint); ok {
		if k := s.byID(id.(string)); k != nil {
			return k.clone(), true
		}
	}

	for _, k := range s.keys {
		if CompareAPIKeyHash(k.KeyHash, key) {
			s.verified.SetDefault(fingerprint, k.ID)

			return k.clone(), true
		}
	}

	return nil, false
}

// Len returns the number of records.
func (s *KeyStore) Len() int {
	return len(s.keys)
}

func (s *KeyStore) byID(id string) *APIKey {
	for _, k := range s.keys {
		if k.ID == id {
			return k
		}
	}

	return nil
}

func keyFingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))

	return hex.EncodeToString(sum[:])
}
