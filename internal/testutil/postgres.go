package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/epass/server/internal/db"
)

// TestDB is a migrated PostgreSQL database for integration tests
type TestDB struct {
	Container testcontainers.Container
	DB        *sql.DB
	DSN       string
}

// NewTestDB returns a migrated database. DATABASE_URL is used when set;
// otherwise a throwaway postgres container is started. Skipped under -short.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	ctx := context.Background()
	tdb := &TestDB{DSN: os.Getenv("DATABASE_URL")}

	if tdb.DSN == "" {
		container, err := tcPostgres.Run(ctx,
			"postgres:16-alpine",
			tcPostgres.WithDatabase("epass_test"),
			tcPostgres.WithUsername("test"),
			tcPostgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			t.Skipf("postgres container unavailable: %v", err)
		}
		tdb.Container = container

		tdb.DSN, err = container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			tdb.Cleanup()
			t.Fatalf("failed to get connection string: %v", err)
		}
	}

	conn, err := db.Open(ctx, tdb.DSN)
	if err != nil {
		tdb.Cleanup()
		t.Fatalf("failed to connect to database: %v", err)
	}
	tdb.DB = conn

	if err := db.Migrate(conn); err != nil {
		tdb.Cleanup()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(tdb.Cleanup)
	tdb.Truncate(t)
	return tdb
}

// Cleanup closes the pool and terminates the container, if any
func (tdb *TestDB) Cleanup() {
	if tdb.DB != nil {
		_ = tdb.DB.Close()
		tdb.DB = nil
	}
	if tdb.Container != nil {
		_ = tdb.Container.Terminate(context.Background())
		tdb.Container = nil
	}
}

// Truncate clears all tables for test isolation
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()

	_, err := tdb.DB.Exec(`TRUNCATE TABLE checkins, epass_tokens, registrations, sessions, events, persons CASCADE`)
	if err != nil {
		t.Fatalf("failed to truncate: %v", err)
	}
}
