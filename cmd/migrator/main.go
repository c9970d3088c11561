// Package main provides the damsafe database migration CLI.
//
// Usage:
//
//	DATABASE_URL=postgres://... migrator up|down|status
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
)

var (
	Version = "1.0.0-dev" // set with -ldflags at build time
	name    = "migrator"
)

func main() {
	showVersion := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, Version)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(2) //nolint: mnd
	}

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	runner, err := NewRunner(cfg)
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}

	if err := executeCommand(flag.Arg(0), runner); err != nil {
		_ = runner.Close()

		log.Fatalf("Migration failed: %v", err)
	}

	_ = runner.Close()
}

func executeCommand(command string, runner *Runner) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage() {
	fmt.Printf(`%s v%s

Usage: %s <command>

Commands:
  up      apply all pending migrations
  down    roll back the last migration
  status  show the applied and embedded schema versions

Environment:
  DATABASE_URL     PostgreSQL connection string (required)
  MIGRATION_TABLE  migration tracking table (default: schema_migrations)
`, name, Version, name)
}
