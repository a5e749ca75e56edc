// Package testutil holds Postgres and Redis fixtures shared by integration tests.
// Tests skip when the backing service is unreachable unless TEST_REQUIRE_DB, TEST_REQUIRE_REDIS
// or TEST_REQUIRE_INFRA is set.
package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	// Import pgx driver for database/sql compatibility in tests.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/target/streamauth/internal/migrate"
)

// TestingTB is the subset of testing.TB the fixtures need.
type TestingTB interface {
	Helper()
	Cleanup(func())
	Skip(args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Logf(format string, args ...any)
}

// TestDBConfig holds configuration for test database.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig returns default test database configuration.
// Defaults to port 55432 (local test DB from docker-compose test profile).
// CI/CD environments should set TEST_DB_PORT=5432 explicitly.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     getEnvOrDefault("TEST_DB_HOST", "localhost"),
		Port:     getEnvOrDefault("TEST_DB_PORT", "55432"),
		User:     getEnvOrDefault("TEST_DB_USER", "streamauth"),
		Password: getEnvOrDefault("TEST_DB_PASSWORD", "streamauth"),
		DBName:   getEnvOrDefault("TEST_DB_NAME", "streamauth"),
	}
}

// DSN builds a pgx DSN. A non-empty schema is put first on the search_path.
func (c TestDBConfig) DSN(schema string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   "/" + c.DBName,
	}
	q := url.Values{"sslmode": {getEnvOrDefault("DB_SSL_MODE", "disable")}}
	if schema != "" {
		q.Set("search_path", schema+",public")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// SkipIfNoTestDB skips the test if test database is not available.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()

	db, err := sql.Open("pgx", DefaultTestDBConfig().DSN(""))
	if err == nil {
		defer closeAndLog(t, "probe DB", db)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = db.PingContext(ctx)
	}
	if err == nil {
		return
	}
	if requireDB() {
		t.Fatal("Test database not available:", err)
	}
	t.Skip("Test database not available:", err)
}

// WithAutoDB runs fn against a migrated database. With TEST_DB_EPHEMERAL set each
// test gets its own schema, dropped afterwards; otherwise the shared database is
// emptied before and after fn.
func WithAutoDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	SkipIfNoTestDB(t)
	if envBool("TEST_DB_EPHEMERAL") {
		fn(ephemeralSchemaDB(t))
		return
	}
	fn(sharedDB(t))
}

func sharedDB(t TestingTB) *sql.DB {
	t.Helper()
	db := openMigrated(t, DefaultTestDBConfig().DSN(""))
	truncateAll(t, db)
	t.Cleanup(func() {
		truncateAll(t, db)
		closeAndLog(t, "test DB", db)
	})
	return db
}

func ephemeralSchemaDB(t TestingTB) *sql.DB {
	t.Helper()
	cfg := DefaultTestDBConfig()
	admin, err := sql.Open("pgx", cfg.DSN(""))
	if err != nil {
		t.Fatal("Failed to open admin DB:", err)
	}

	schema := generateSchemaName()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA "+schema); err != nil {
		closeAndLog(t, "admin DB", admin)
		t.Fatalf("Failed to create schema %s: %v", schema, err)
	}
	t.Logf("Using ephemeral schema: %s", schema)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := admin.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
		closeAndLog(t, "admin DB", admin)
	})

	db := openMigrated(t, cfg.DSN(schema))
	t.Cleanup(func() { closeAndLog(t, "schema DB", db) })
	return db
}

func openMigrated(t TestingTB, dsn string) *sql.DB {
	t.Helper()
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatal("Failed to open database:", err)
	}
	db.SetMaxOpenConns(10)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		closeAndLog(t, "test DB", db)
		t.Fatal("Failed to connect to test database:", err)
	}
	if err := migrate.Run(ctx, db); err != nil {
		closeAndLog(t, "test DB", db)
		t.Fatal("Failed to run migrations:", err)
	}
	return db
}

// truncateAll empties every table the migrations own and drops the legacy admins
// table that import tests create by hand.
func truncateAll(t TestingTB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx,
		`TRUNCATE legacy_admin_imports, sessions, principals RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("Failed to truncate tables: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS admins`); err != nil {
		t.Fatalf("Failed to drop legacy admins table: %v", err)
	}
}

// generateSchemaName creates a lowercase alphanumeric schema name with prefix.
func generateSchemaName() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("t_%d", time.Now().UnixNano())
	}
	return "t_" + hex.EncodeToString(b)
}

// RunConcurrent starts every fn at once and returns their errors in call order.
func RunConcurrent(fns ...func() error) []error {
	errs := make([]error, len(fns))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}()
	}
	close(start)
	wg.Wait()
	return errs
}

// CountSucceeded returns how many of errs are nil.
func CountSucceeded(errs []error) int {
	n := 0
	for _, err := range errs {
		if err == nil {
			n++
		}
	}
	return n
}

// SetupTestRedis connects to the test Redis (TEST_REDIS_ADDR, then REDIS_ADDR,
// then localhost:56379) on DB TEST_REDIS_DB (default 15) and flushes that DB.
// The caller closes the client.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	addr := getEnvOrDefault("TEST_REDIS_ADDR", getEnvOrDefault("REDIS_ADDR", "localhost:56379"))
	dbIndex := 15
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil || i < 0 {
			t.Fatalf("invalid TEST_REDIS_DB %q", v)
		}
		dbIndex = i
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: dbIndex})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := client.Ping(ctx).Err()
	if err == nil {
		err = client.FlushDB(ctx).Err()
	}
	if err != nil {
		closeAndLog(t, "redis client", client)
		if requireRedis() {
			t.Fatalf("Redis not available for testing at %s: %v", addr, err)
		}
		t.Skip("Redis not available for testing at "+addr+":", err)
	}
	return client
}

func closeAndLog(t TestingTB, name string, closer interface{ Close() error }) {
	if err := closer.Close(); err != nil {
		t.Logf("warning: failed to close %s: %v", name, err)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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
