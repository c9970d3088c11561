package middleware

import (
	"log/slog"
	"net/http"

	"github.com/damsafe-io/damsafe/internal/storage"
)

// Option wraps a handler in one middleware.
type Option func(http.Handler) http.Handler

// Apply wraps handler so that the first option is the outermost middleware.
//
//	handler := middleware.Apply(mux,
//	    middleware.WithCorrelationID(),
//	    middleware.WithRecovery(logger),
//	    middleware.WithAuthentication(keys, logger),
//	    middleware.WithRateLimit(limiter, logger),
//	    middleware.WithRequestLogger(logger, metrics),
//	    middleware.WithCORS(corsConfig),
//	)
func Apply(handler http.Handler, options ...Option) http.Handler {
	for i := len(options) - 1; i >= 0; i-- {
		handler = options[i](handler)
	}

	return handler
}

func passthrough(next http.Handler) http.Handler {
	return next
}

// WithCorrelationID adds CorrelationID.
func WithCorrelationID() Option {
	return CorrelationID()
}

// WithRecovery adds Recovery.
func WithRecovery(logger *slog.Logger) Option {
	return Recovery(logger)
}

// WithAuthentication adds Authenticate. A nil store disables authentication.
func WithAuthentication(store storage.APIKeyStore, logger *slog.Logger) Option {
	if store == nil {
		return passthrough
	}

	return Authenticate(store, logger)
}

// WithRateLimit adds RateLimit. A nil limiter disables rate limiting.
func WithRateLimit(limiter RateLimiter, logger *slog.Logger) Option {
	if limiter == nil {
		return passthrough
	}

	return RateLimit(limiter, logger)
}

// WithRequestLogger adds RequestLogger.
func WithRequestLogger(logger *slog.Logger, observer RequestObserver) Option {
	return RequestLogger(logger, observer)
}

// WithCORS adds CORS.
func WithCORS(config CORSConfig) Option {
	return CORS(config)
}
