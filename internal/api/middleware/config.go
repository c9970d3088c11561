// Package middleware holds the HTTP middleware of the damsafe API: correlation ids,
// panic recovery, API key authentication, rate limiting, request logging and CORS.
package middleware

import (
	"time"

	"github.com/damsafe-io/damsafe/internal/config"
)

// Config holds rate limiter settings in requests per second. Zero bursts default to
// twice the rate.
type Config struct {
	GlobalRPS int
	KeyRPS    int
	UnAuthRPS int

	GlobalBurst int
	KeyBurst    int
	UnAuthBurst int

	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	MaxKeys         int
}

// LoadConfig reads the DAMSAFE_*_RPS, DAMSAFE_*_BURST and DAMSAFE_RATE_LIMIT_*
// variables.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS: config.GetEnvInt("DAMSAFE_GLOBAL_RPS", defaultGlobalRPS),
		KeyRPS:    config.GetEnvInt("DAMSAFE_KEY_RPS", defaultKeyRPS),
		UnAuthRPS: config.GetEnvInt("DAMSAFE_UNAUTH_RPS", defaultUnAuthRPS),

		GlobalBurst: config.GetEnvInt("DAMSAFE_GLOBAL_BURST", 0),
		KeyBurst:    config.GetEnvInt("DAMSAFE_KEY_BURST", 0),
		UnAuthBurst: config.GetEnvInt("DAMSAFE_UNAUTH_BURST", 0),

		CleanupInterval: config.GetEnvDuration("DAMSAFE_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval),
		IdleTimeout:     config.GetEnvDuration("DAMSAFE_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxKeys:         config.GetEnvInt("DAMSAFE_RATE_LIMIT_MAX_KEYS", defaultMaxKeys),
	}
}
