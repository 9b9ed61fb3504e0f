package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/income-verifier/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// testPostgresConfig reads connection settings from the environment with local defaults
func testPostgresConfig() *config.PostgresConfig {
	get := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}
	return &config.PostgresConfig{
		Host:           get("POSTGRES_HOST", "localhost"),
		Port:           get("POSTGRES_PORT", "5432"),
		Database:       get("POSTGRES_DB", "income_verifier_test"),
		User:           get("POSTGRES_USER", "verifier"),
		Password:       get("POSTGRES_PASSWORD", "verifier_dev_password"),
		MaxConnections: 5,
	}
}

// testPostgres connects and migrates a test database, skipping when none is reachable
func testPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testPostgresConfig()
	db, err := NewPostgresDB(testContext(t), cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	if err := NewMigrator(DatabaseURL(cfg), "../../migrations/postgres").Up(); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}

	ctx := testContext(t)
	for _, table := range []string{"reports", "transaction_meta", "verified_senders", "wallets"} {
		if _, err := db.Pool().Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("failed to clean %s: %v", table, err)
		}
	}
	return db
}
