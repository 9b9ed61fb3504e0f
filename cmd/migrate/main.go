// Package main provides a CLI tool for running database migrations.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/income-verifier/internal/config"
	"github.com/income-verifier/internal/storage"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version")
		path   = flag.String("path", "", "Migrations directory (defaults to POSTGRES_MIGRATIONS_PATH)")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	migrationsPath := cfg.Database.Postgres.MigrationsPath
	if *path != "" {
		migrationsPath = *path
	}

	migrator := storage.NewMigrator(storage.DatabaseURL(&cfg.Database.Postgres), migrationsPath)
	if err := run(migrator, *action); err != nil {
		log.Fatalf("Postgres migration failed: %v", err)
	}
}

func run(migrator *storage.Migrator, action string) error {
	switch action {
	case "up":
		log.Println("Running Postgres migrations...")
		if err := migrator.Up(); err != nil {
			return err
		}
		log.Println("Postgres migrations completed successfully")

	case "down":
		log.Println("Rolling back the last Postgres migration...")
		if err := migrator.Down(); err != nil {
			return err
		}
		log.Println("Postgres migration rolled back successfully")

	case "version":
		version, dirty, err := migrator.Version()
		if err != nil {
			return err
		}
		log.Printf("Current Postgres migration version: %d (dirty: %v)", version, dirty)

	default:
		return fmt.Errorf("unknown action: %s", action)
	}

	return nil
}
