package api

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfig(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("defaults", func(t *testing.T) {
		cfg := LoadServerConfig()

		assert.Equal(t, defaultPort, cfg.Port)
		assert.Equal(t, defaultHost, cfg.Host)
		assert.Equal(t, defaultWriteTimeout, cfg.WriteTimeout)
		assert.Equal(t, int64(defaultMaxRequestSize), cfg.MaxRequestSize)
		assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
		assert.Equal(t, "0.0.0.0:8080", cfg.Address())
		require.NoError(t, cfg.Validate())
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("DAMSAFE_SERVER_PORT", "9090")
		t.Setenv("DAMSAFE_SERVER_HOST", "127.0.0.1")
		t.Setenv("DAMSAFE_SERVER_WRITE_TIMEOUT", "2m")
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("API_KEYS_FILE", "/etc/damsafe/keys.yaml")
		t.Setenv("DAMSAFE_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

		cfg := LoadServerConfig()

		assert.Equal(t, "127.0.0.1:9090", cfg.Address())
		assert.Equal(t, 2*time.Minute, cfg.WriteTimeout)
		assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
		assert.Equal(t, "/etc/damsafe/keys.yaml", cfg.APIKeysFile)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.ToCORSConfig().GetAllowedOrigins())
	})
}

func TestServerConfig_Validate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	valid := func() *ServerConfig {
		return &ServerConfig{
			Port:            8080,
			Host:            "localhost",
			ReadTimeout:     time.Second,
			WriteTimeout:    time.Second,
			ShutdownTimeout: time.Second,
			MaxRequestSize:  1024,
		}
	}

	tests := []struct {
		name   string
		mutate func(*ServerConfig)
		want   error
	}{
		{name: "port zero", mutate: func(c *ServerConfig) { c.Port = 0 }, want: ErrInvalidPort},
		{name: "port too high", mutate: func(c *ServerConfig) { c.Port = 70000 }, want: ErrInvalidPort},
		{name: "empty host", mutate: func(c *ServerConfig) { c.Host = "" }, want: ErrEmptyHost},
		{name: "read timeout", mutate: func(c *ServerConfig) { c.ReadTimeout = 0 }, want: ErrInvalidReadTimeout},
		{name: "write timeout", mutate: func(c *ServerConfig) { c.WriteTimeout = -1 }, want: ErrInvalidWriteTimeout},
		{name: "shutdown timeout", mutate: func(c *ServerConfig) { c.ShutdownTimeout = 0 }, want: ErrInvalidShutdownTimeout},
		{name: "request size", mutate: func(c *ServerConfig) { c.MaxRequestSize = 0 }, want: ErrInvalidMaxRequestSize},
	}

	require.NoError(t, valid().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}
