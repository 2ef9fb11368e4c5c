package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
)

// Dialect names a supported database/sql driver.
type Dialect string

const (
	DialectPostgres Dialect = "pgx"
	DialectDuckDB   Dialect = "duckdb"
)

func ParseDialect(driver string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(driver))) {
	case DialectPostgres:
		return DialectPostgres, nil
	case DialectDuckDB:
		return DialectDuckDB, nil
	default:
		return "", fmt.Errorf("unsupported datastore driver %q", driver)
	}
}

// AutoIncrementDDL returns the statements that precede CREATE TABLE and the
// column definition for an auto-incrementing integer primary key.
func (d Dialect) AutoIncrementDDL(table, column string) (prelude []string, definition string) {
	if d == DialectDuckDB {
		sequence := table + "_" + column + "_seq"
		return []string{fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s", sequence)},
			fmt.Sprintf("%s INTEGER PRIMARY KEY DEFAULT nextval('%s')", column, sequence)
	}
	return nil, column + " SERIAL PRIMARY KEY"
}

type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// Open connects to the configured datastore and verifies it with a ping. An
// empty DuckDB DSN opens an in-memory database.
func Open(ctx context.Context, cfg Config) (*sql.DB, Dialect, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, "", err
	}
	if dialect == DialectPostgres && strings.TrimSpace(cfg.DSN) == "" {
		return nil, "", fmt.Errorf("datastore dsn is required")
	}

	db, err := sql.Open(string(dialect), cfg.DSN)
	if err != nil {
		return nil, "", fmt.Errorf("open datastore: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping datastore: %w", err)
	}

	return db, dialect, nil
}
