package main

import (
	"errors"

	"github.com/damsafe-io/damsafe/internal/config"
	"github.com/damsafe-io/damsafe/internal/storage"
)

var (
	// ErrMigrationTableEmpty is returned when MIGRATION_TABLE is set to blank.
	ErrMigrationTableEmpty = errors.New("MIGRATION_TABLE cannot be empty")
)

// Config holds the migrator settings.
type Config struct {
	Storage        *storage.Config
	MigrationTable string
}

// LoadConfig reads DATABASE_URL and MIGRATION_TABLE and validates them.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Storage:        storage.LoadConfig(),
		MigrationTable: config.GetEnvStr("MIGRATION_TABLE", "schema_migrations"),
	}
	// Migrations only make sense against PostgreSQL, whatever the service runs on.
	cfg.Storage.Backend = storage.BackendPostgres

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that both the database URL and the migration table are set.
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if c.MigrationTable == "" {
		return ErrMigrationTableEmpty
	}

	return nil
}

// String is safe for logging; the password is masked.
func (c *Config) String() string {
	return "Config{DatabaseURL: " + c.Storage.MaskDatabaseURL() + ", MigrationTable: " + c.MigrationTable + "}"
}
