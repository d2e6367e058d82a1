package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	// Register the pgx driver for database/sql based tests.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/marketfeed/catalogd/internal/migrate"
)

// TestingTB is the subset of testing.TB these helpers need, so they work from
// both tests and benchmarks.
type TestingTB interface {
	Helper()
	Skip(args ...interface{})
	Skipf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	Logf(format string, args ...interface{})
}

// TestTime is the fixed clock the listing and job builders stamp records
// with, so assertions on hydrated_at / moderated_at are deterministic.
func TestTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

// WithTestDB runs fn against a migrated, emptied catalog database and tears
// it down afterwards. Tests skip when no database is reachable unless
// TEST_REQUIRE_DB (or TEST_REQUIRE_INFRA) demands one, as in CI.
func WithTestDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()

	db := openTestDB(t)
	defer func() {
		truncateCatalogTables(t, db)
		if err := db.Close(); err != nil {
			t.Fatal("close test database:", err)
		}
	}()

	fn(db)
}

func openTestDB(t TestingTB) *sql.DB {
	t.Helper()

	db, err := sql.Open("pgx", testDatabaseDSN())
	if err != nil {
		t.Fatal("open test database:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		if requireDB() {
			t.Fatal("test database required but unreachable:", pingErr)
		}
		t.Skip("test database not reachable, start it with docker-compose up -d:", pingErr)
	}

	// The production migrations define the schema under test; anything else
	// would let the tests drift from what bootstrap actually creates.
	if migrateErr := migrate.Run(ctx, db); migrateErr != nil {
		t.Fatal("migrate test database:", migrateErr)
	}

	truncateCatalogTables(t, db)
	return db
}

// truncateCatalogTables empties every catalog table, children before parents
// so foreign keys on listing_events never block the sweep.
func truncateCatalogTables(t TestingTB, db *sql.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, table := range []string{"listing_events", "listings", "jobs", "sync_jobs"} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("reset table %s: %v", table, err)
		}
	}
}

// testDatabaseDSN points at the docker-compose test database on 55432 by
// default; CI overrides via TEST_DB_* variables.
func testDatabaseDSN() string {
	host := envOr("TEST_DB_HOST", "localhost")
	port := envOr("TEST_DB_PORT", "55432")
	user := envOr("TEST_DB_USER", "catalogd")
	password := envOr("TEST_DB_PASSWORD", "catalogd")
	name := envOr("TEST_DB_NAME", "catalogd")

	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		user, password, net.JoinHostPort(host, port), name)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func requireDB() bool    { return envBool("TEST_REQUIRE_DB") || envBool("TEST_REQUIRE_INFRA") }
func requireRedis() bool { return envBool("TEST_REQUIRE_REDIS") || envBool("TEST_REQUIRE_INFRA") }
