package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix starts every damsafe API key.
	APIKeyPrefix = "damsafe_ak_"

	randomBytesSize = 32
	apiKeyLength    = len(APIKeyPrefix) + 2*randomBytesSize
	maskPrefixLen   = len(APIKeyPrefix) + 4
	maskSuffixLen   = 4

	// bcrypt cost 10 is roughly 60ms per comparison.
	bcryptCost  = 10
	bcryptLimit = 72
)

var (
	// ErrKeyNil is returned when hashing an empty key.
	ErrKeyNil = errors.New("API key cannot be empty")

	// ErrKeyStringEmpty is returned by ParseAPIKey for an empty string.
	ErrKeyStringEmpty = errors.New("key string cannot be empty")

	// ErrInvalidKeyFormat is returned when a key lacks the damsafe prefix or is not hex.
	ErrInvalidKeyFormat = errors.New("invalid API key format")

	// ErrInvalidKeyLength is returned when a key has the wrong length.
	ErrInvalidKeyLength = errors.New("invalid API key length")

	// ErrKeyIDEmpty is returned when a key record has no id.
	ErrKeyIDEmpty = errors.New("API key id cannot be empty")

	// ErrKeyHashEmpty is returned when a key record has no hash.
	ErrKeyHashEmpty = errors.New("API key hash cannot be empty")

	// ErrDuplicateKeyID is returned when two key records share an id.
	ErrDuplicateKeyID = errors.New("duplicate API key id")
)

// APIKey is an API key record. Only the bcrypt hash of the key is kept.
type APIKey struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Roles     []string   `json:"roles"`
	KeyHash   string     `json:"-"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Active    bool       `json:"active"`
}

// APIKeyStore finds the record matching a presented key.
type APIKeyStore interface {
	FindByKey(key string) (*APIKey, bool)
}

// HasRole reports whether the key carries role.
func (k *APIKey) HasRole(role string) bool {
	return slices.Contains(k.Roles, role)
}

// Expired reports whether the key expired before now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

func (k *APIKey) clone() *APIKey {
	c := *k
	c.Roles = slices.Clone(k.Roles)

	return &c
}

// Validate checks the record itself, not a presented key.
func (k *APIKey) Validate() error {
	if strings.TrimSpace(k.ID) == "" {
		return ErrKeyIDEmpty
	}

	if k.KeyHash == "" {
		return fmt.Errorf("%w: key %s", ErrKeyHashEmpty, k.ID)
	}

	return nil
}

// HashAPIKey returns the bcrypt hash stored for apiKey. Keys longer than bcrypt's
// 72 byte limit are pre-hashed with SHA-256.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrKeyNil
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptInput(apiKey), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}

	return string(hash), nil
}

// CompareAPIKeyHash reports whether apiKey matches hash. Any error is a mismatch.
func CompareAPIKeyHash(hash, apiKey string) bool {
	if hash == "" || apiKey == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(apiKey)) == nil
}

func bcryptInput(apiKey string) []byte {
	if len(apiKey) <= bcryptLimit {
		return []byte(apiKey)
	}

	sum := sha256.Sum256([]byte(apiKey))

	return sum[:]
}

// SecureCompare compares two strings in constant time.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		subtle.ConstantTimeCompare([]byte(a), make([]byte, len(a)))

		return false
	}

	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MaskKey hides all but the prefix and last four characters of a well-formed key.
// Anything else is masked completely.
func MaskKey(key string) string {
	if len(key) != apiKeyLength {
		return strings.Repeat("*", len(key))
	}

	return key[:maskPrefixLen] +
		strings.Repeat("*", apiKeyLength-maskPrefixLen-maskSuffixLen) +
		key[apiKeyLength-maskSuffixLen:]
}

// GenerateAPIKey creates a new random key: the prefix followed by 64 hex characters.
func GenerateAPIKey() (string, error) {
	randomBytes := make([]byte, randomBytesSize)

	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return APIKeyPrefix + hex.EncodeToString(randomBytes), nil
}

// ParseAPIKey validates the shape of a presented key.
func ParseAPIKey(keyString string) (string, error) {
	if keyString == "" {
		return "", ErrKeyStringEmpty
	}

	if !strings.HasPrefix(keyString, APIKeyPrefix) {
		return "", ErrInvalidKeyFormat
	}

	if len(keyString) != apiKeyLength {
		return "", fmt.Errorf("%w: expected %d characters, got %d", ErrInvalidKeyLength, apiKeyLength, len(keyString))
	}

	if _, err := hex.DecodeString(keyString[len(APIKeyPrefix):]); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidKeyFormat, err)
	}

	return keyString, nil
}
