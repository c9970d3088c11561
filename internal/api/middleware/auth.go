package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/damsafe-io/damsafe/internal/storage"
)

// RoleAdmin is required by the collection and job submission endpoints.
const RoleAdmin = "admin"

var (
	publicMu        sync.RWMutex
	publicEndpoints = map[string]bool{} //nolint: gochecknoglobals
)

// RegisterPublicEndpoint exempts a path from authentication. Only health and
// metrics endpoints belong here.
func RegisterPublicEndpoint(path string) {
	publicMu.Lock()
	defer publicMu.Unlock()

	publicEndpoints[path] = true
}

func isPublic(path string) bool {
	publicMu.RLock()
	defer publicMu.RUnlock()

	return publicEndpoints[path]
}

// AuthError is an authentication or authorization failure.
type AuthError struct {
	Type    error
	Message string
}

var (
	// ErrMissingAPIKey is returned when no API key is provided in headers.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAPIKey covers both malformed and unknown keys.
	ErrInvalidAPIKey = errors.New("invalid API key")

	// ErrAPIKeyExpired is returned when the API key has expired.
	ErrAPIKeyExpired = errors.New("API key expired")

	// ErrAPIKeyInactive is returned for disabled keys.
	ErrAPIKeyInactive = errors.New("API key inactive")

	// ErrForbidden is returned when an authenticated key lacks the required role.
	ErrForbidden = errors.New("insufficient role")
)

func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authentication failed: %s: %s", e.Type.Error(), e.Message)
	}

	return "authentication failed: " + e.Type.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Type
}

// extractAPIKey reads X-Api-Key, falling back to Authorization: Bearer.
func extractAPIKey(r *http.Request) (string, bool) {
	if apiKey := r.Header.Get("X-Api-Key"); apiKey != "" {
		return cleanAPIKey(apiKey)
	}

	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return cleanAPIKey(token)
	}

	return "", false
}

func cleanAPIKey(key string) (string, bool) {
	if strings.ContainsAny(key, "\r\n") {
		return "", false
	}

	key = strings.TrimSpace(key)

	return key, key != ""
}

// dummyHash keeps rejected requests as slow as a real comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("damsafe-dummy"), bcrypt.DefaultCost) //nolint: gochecknoglobals

func performDummyBcryptComparison() {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte("dummy"))
}

func authenticateRequest(r *http.Request, store storage.APIKeyStore, apiKey string, logger *slog.Logger) (*storage.APIKey, error) {
	correlationID := GetCorrelationID(r.Context())

	parsed, err := storage.ParseAPIKey(apiKey)
	if err != nil {
		performDummyBcryptComparison()

		logger.Warn("Authentication failed: invalid key format",
			slog.String("error", err.Error()),
			slog.String("correlation_id", correlationID),
			slog.String("failure_type", "format_validation"))

		return nil, &AuthError{Type: ErrInvalidAPIKey, Message: "Invalid or missing API key"}
	}

	found, ok := store.FindByKey(parsed)
	if !ok {
		logger.Warn("Authentication failed: key not found",
			slog.String("key", storage.MaskKey(parsed)),
			slog.String("correlation_id", correlationID),
			slog.String("failure_type", "key_not_found"))

		return nil, &AuthError{Type: ErrInvalidAPIKey, Message: "Invalid or missing API key"}
	}

	if !found.Active {
		logger.Warn("Authentication failed: key inactive",
			slog.String("key_id", found.ID),
			slog.String("correlation_id", correlationID),
			slog.String("failure_type", "key_inactive"))

		return nil, &AuthError{Type: ErrAPIKeyInactive, Message: "API key is inactive"}
	}

	if found.Expired(time.Now()) {
		logger.Warn("Authentication failed: key expired",
			slog.String("key_id", found.ID),
			slog.Time("expired_at", *found.ExpiresAt),
			slog.String("correlation_id", correlationID),
			slog.String("failure_type", "key_expired"))

		return nil, &AuthError{Type: ErrAPIKeyExpired, Message: "API key has expired"}
	}

	return found, nil
}

// Authenticate verifies the request's API key and attaches its Principal. Public
// endpoints pass through untouched.
func Authenticate(store storage.APIKeyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)

				return
			}

			start := time.Now()

			apiKey, found := extractAPIKey(r)
			if !found {
				writeAuthError(w, r, logger, &AuthError{Type: ErrMissingAPIKey, Message: "Missing API key"})

				return
			}

			key, err := authenticateRequest(r, store, apiKey, logger)
			if err != nil {
				writeAuthError(w, r, logger, err)

				return
			}

			principal := Principal{
				KeyID:    key.ID,
				Name:     key.Name,
				Roles:    key.Roles,
				AuthTime: time.Now(),
			}

			logger.Debug("API key authenticated",
				slog.String("key_id", key.ID),
				slog.Duration("auth_latency", time.Since(start)),
				slog.String("correlation_id", GetCorrelationID(r.Context())),
				slog.String("endpoint", r.URL.Path))

			next.ServeHTTP(w, r.WithContext(SetPrincipal(r.Context(), principal)))
		})
	}
}

// RequireRole rejects callers without role. It wraps single handlers and must run
// inside Authenticate. Without a principal, authentication was disabled and the
// request passes.
func RequireRole(role string, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := GetPrincipal(r.Context())
		if ok && !principal.HasRole(role) {
			writeAuthError(w, r, logger, &AuthError{
				Type:    ErrForbidden,
				Message: fmt.Sprintf("role %q required", role),
			})

			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := http.StatusUnauthorized
	if errors.Is(err, ErrAPIKeyInactive) || errors.Is(err, ErrForbidden) {
		status = http.StatusForbidden
	}

	correlationID := GetCorrelationID(r.Context())

	logger.Warn("Request rejected",
		slog.String("reason", err.Error()),
		slog.Int("status", status),
		slog.String("correlation_id", correlationID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr))

	if werr := writeProblem(w, r, status, err.Error()); werr != nil {
		logger.Error("Failed to write problem response",
			slog.String("correlation_id", correlationID),
			slog.String("error", werr.Error()))
	}
}
