// Package config reads service settings from the environment.
//
// Every getter falls back to its default when the variable is unset or cannot be
// parsed, so a malformed value never prevents the service from starting.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvStr returns the value of key, or defaultValue when it is unset or empty.
//
// Example:
//
//	addr := GetEnvStr("REDIS_ADDR", "localhost:6379")
func GetEnvStr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// GetEnvInt returns key parsed as a base-10 int.
//
// Example:
//
//	port := GetEnvInt("DAMSAFE_PORT", 8080)
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}

	return defaultValue
}

// GetEnvBool returns key parsed as a boolean.
// Accepts "true", "1", "yes" and "false", "0", "no" (case-insensitive).
//
// Example:
//
//	enabled := GetEnvBool("COLLECTION_ENABLED", true)
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}

	return defaultValue
}

// GetEnvDuration returns key parsed with time.ParseDuration.
//
// Example:
//
//	timeout := GetEnvDuration("STALL_TIMEOUT", 30*time.Minute)
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return duration
		}
	}

	return defaultValue
}

// GetEnvLogLevel returns key mapped to a slog level (debug, info, warn, error).
//
// Example:
//
//	level := GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo)
func GetEnvLogLevel(key string, defaultValue slog.Level) slog.Level {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "debug":
			return slog.LevelDebug
		case "info":
			return slog.LevelInfo
		case "warn", "warning":
			return slog.LevelWarn
		case "error":
			return slog.LevelError
		}
	}

	return defaultValue
}

// GetEnvLocation returns key loaded as an IANA time zone.
// Unknown zone names fall back to defaultValue.
//
// Example:
//
//	loc := GetEnvLocation("COLLECTION_TIMEZONE", time.UTC)
func GetEnvLocation(key string, defaultValue *time.Location) *time.Location {
	if value := os.Getenv(key); value != "" {
		if loc, err := time.LoadLocation(strings.TrimSpace(value)); err == nil {
			return loc
		}
	}

	return defaultValue
}

// GetEnvList returns key split on commas, with blanks dropped.
//
// Example:
//
//	brokers := GetEnvList("KAFKA_BROKERS", nil)
func GetEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		if list := ParseCommaSeparatedList(value); len(list) > 0 {
			return list
		}
	}

	return defaultValue
}

// ParseCommaSeparatedList parses a comma-separated string into a slice of trimmed strings.
// Empty values are filtered out.
func ParseCommaSeparatedList(input string) []string {
	if input == "" {
		return []string{}
	}

	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
