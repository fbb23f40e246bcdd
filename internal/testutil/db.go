package testutil

import (
	"os"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/xxxsen/evote/internal/config"
	"github.com/xxxsen/evote/internal/db"
)

// OpenTestDB returns a migrated database. Postgres is used when TEST_DB_HOST
// is set, otherwise an in-memory sqlite database.
func OpenTestDB(t *testing.T) (*sqlx.DB, func()) {
	t.Helper()
	cfg := config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}
	if host := os.Getenv("TEST_DB_HOST"); host != "" {
		cfg = config.DatabaseConfig{
			Driver:   "postgres",
			Host:     host,
			Port:     5432,
			User:     "evote",
			Password: "evote_pass",
			DBName:   "evote_test",
			SSLMode:  "disable",
		}
	}
	conn, err := db.Open(cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return conn, func() {
		_ = conn.Close()
	}
}
