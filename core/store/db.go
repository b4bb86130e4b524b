package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"osprey-ptx/config"
	"osprey-ptx/core/utils"
)

// NewDB opens the configured database. Postgres (via pgx) is the only
// supported production driver; sqlite is allowed in the go test runtime
// so tests can run against a throwaway file DB.
func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*sql.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if strings.TrimSpace(cfg.DBPath) != "" {
		driver = "sqlite"
	}
	var db *sql.DB
	var err error
	switch driver {
	case "", "postgres", "pgx":
		db, err = sql.Open("pgx", cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	case "sqlite":
		if !isTestRuntime() {
			return nil, fmt.Errorf("sqlite driver is only supported in the go test runtime")
		}
		dsn := cfg.DBPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if logger != nil {
		logger.Printf("db ready (driver=%s)", driver)
	}
	return db, nil
}

func isTestRuntime() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

func isPostgresDB(ctx context.Context, db *sql.DB) (bool, error) {
	var version string
	err := db.QueryRowContext(ctx, `SELECT version()`).Scan(&version)
	if err != nil {
		// sqlite has no version() function
		return false, nil
	}
	return strings.HasPrefix(version, "PostgreSQL"), nil
}
