package telemetry

import (
	"strings"
	"time"

	"github.com/damsafe-io/damsafe/internal/config"
)

const (
	defaultBaseURL  = "https://www.ana.gov.br/hidrowebservice"
	defaultTimeout  = 30 * time.Second
	providerTZ      = "America/Sao_Paulo"
	maxResponseSize = 10 << 20
)

// Config holds provider connection settings.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Identifier string
	password   string
	Location   *time.Location // zone of provider timestamps without an offset
}

// LoadConfig reads TELEMETRY_BASE_URL, TELEMETRY_TIMEOUT, TELEMETRY_IDENTIFIER,
// TELEMETRY_PASSWORD and TELEMETRY_TIMEZONE.
func LoadConfig() *Config {
	fallback, err := time.LoadLocation(providerTZ)
	if err != nil {
		fallback = time.UTC
	}

	return &Config{
		BaseURL:    strings.TrimRight(config.GetEnvStr("TELEMETRY_BASE_URL", defaultBaseURL), "/"),
		Timeout:    config.GetEnvDuration("TELEMETRY_TIMEOUT", defaultTimeout),
		Identifier: config.GetEnvStr("TELEMETRY_IDENTIFIER", ""),
		password:   config.GetEnvStr("TELEMETRY_PASSWORD", ""),
		Location:   config.GetEnvLocation("TELEMETRY_TIMEZONE", fallback),
	}
}

// Validate checks the base URL and credentials.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return ErrBaseURLEmpty
	}

	if strings.TrimSpace(c.Identifier) == "" || c.password == "" {
		return ErrCredentialsMissing
	}

	return nil
}

// Credentials returns the configured service account.
func (c *Config) Credentials() Credentials {
	return Credentials{Identifier: c.Identifier, Password: c.password}
}
