// Package migrations applies the embedded placements schema to Postgres or
// DuckDB and tracks what has run in a ledger table.
package migrations

import (
	"cmp"
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/querylens/querylens/internal/datastore"
)

//go:embed sql/postgres/*.sql sql/duckdb/*.sql
var embeddedFS embed.FS

const ledgerTable = "querylens_schema_migrations"

// ErrChecksumMismatch reports an applied migration whose script has since
// been edited.
var ErrChecksumMismatch = errors.New("applied migration was modified")

var scriptName = regexp.MustCompile(`^([0-9]+)_(.+)\.(up|down)\.sql$`)

// Runner applies the embedded migrations for one dialect. Scripts live under
// sql/<dialect>.
type Runner struct {
	fsys fs.FS
	dir  string
}

func NewRunner(dialect datastore.Dialect) *Runner {
	return newRunner(embeddedFS, dialect)
}

func newRunner(fsys fs.FS, dialect datastore.Dialect) *Runner {
	dir := "sql/postgres"
	if dialect == datastore.DialectDuckDB {
		dir = "sql/duckdb"
	}
	return &Runner{fsys: fsys, dir: dir}
}

type migration struct {
	Version  int64
	Name     string
	UpSQL    string
	DownSQL  string
	Checksum string
}

// Status is one row of Runner.Status.
type Status struct {
	Version int64
	Name    string
	Applied bool
	// Modified is set when the applied checksum differs from the embedded
	// script.
	Modified bool
}

type appliedVersion struct {
	version  int64
	checksum string
}

// Up applies pending migrations in version order; steps <= 0 applies all. It
// refuses to run when an applied script no longer matches its checksum.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	migrations, applied, err := r.prepare(ctx, db)
	if err != nil {
		return 0, err
	}
	done := make(map[int64]string, len(applied))
	for _, item := range applied {
		done[item.version] = item.checksum
	}
	for _, item := range migrations {
		if checksum, ok := done[item.Version]; ok && checksum != "" && checksum != item.Checksum {
			return 0, fmt.Errorf("%w: %d_%s", ErrChecksumMismatch, item.Version, item.Name)
		}
	}

	count := 0
	for _, item := range migrations {
		if _, ok := done[item.Version]; ok {
			continue
		}
		if steps > 0 && count == steps {
			break
		}
		record := func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO `+ledgerTable+` (version, name, checksum) VALUES ($1, $2, $3)`,
				item.Version, item.Name, item.Checksum)
			return err
		}
		if err := inTx(ctx, db, item.UpSQL, record); err != nil {
			return count, fmt.Errorf("apply migration %d_%s: %w", item.Version, item.Name, err)
		}
		count++
	}
	return count, nil
}

// Down rolls back the newest applied migrations; steps <= 0 rolls back one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	migrations, applied, err := r.prepare(ctx, db)
	if err != nil {
		return 0, err
	}
	byVersion := make(map[int64]migration, len(migrations))
	for _, item := range migrations {
		byVersion[item.Version] = item
	}

	count := 0
	for i := len(applied) - 1; i >= 0 && count < steps; i-- {
		item, ok := byVersion[applied[i].version]
		if !ok {
			return count, fmt.Errorf("applied migration %d has no embedded script", applied[i].version)
		}
		forget := func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM `+ledgerTable+` WHERE version = $1`, item.Version)
			return err
		}
		if err := inTx(ctx, db, item.DownSQL, forget); err != nil {
			return count, fmt.Errorf("roll back migration %d_%s: %w", item.Version, item.Name, err)
		}
		count++
	}
	return count, nil
}

// Status lists every embedded migration with its ledger state.
func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]Status, error) {
	migrations, applied, err := r.prepare(ctx, db)
	if err != nil {
		return nil, err
	}
	done := make(map[int64]string, len(applied))
	for _, item := range applied {
		done[item.version] = item.checksum
	}
	statuses := make([]Status, 0, len(migrations))
	for _, item := range migrations {
		checksum, ok := done[item.Version]
		statuses = append(statuses, Status{
			Version:  item.Version,
			Name:     item.Name,
			Applied:  ok,
			Modified: ok && checksum != "" && checksum != item.Checksum,
		})
	}
	return statuses, nil
}

func (r *Runner) prepare(ctx context.Context, db *sql.DB) ([]migration, []appliedVersion, error) {
	migrations, err := loadMigrations(r.fsys, r.dir)
	if err != nil {
		return nil, nil, err
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+ledgerTable+` (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	checksum TEXT NOT NULL DEFAULT '',
	applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		return nil, nil, fmt.Errorf("ensure migration ledger: %w", err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, nil, err
	}
	return migrations, applied, nil
}

// inTx runs script and the ledger update atomically.
func inTx(ctx context.Context, db *sql.DB, script string, ledger func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("exec script: %w", err)
	}
	if err := ledger(tx); err != nil {
		return fmt.Errorf("update ledger: %w", err)
	}
	return tx.Commit()
}

func appliedVersions(ctx context.Context, db *sql.DB) ([]appliedVersion, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, checksum FROM `+ledgerTable+` ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("read migration ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var applied []appliedVersion
	for rows.Next() {
		var item appliedVersion
		if err := rows.Scan(&item.version, &item.checksum); err != nil {
			return nil, fmt.Errorf("scan migration ledger: %w", err)
		}
		applied = append(applied, item)
	}
	return applied, rows.Err()
}

func loadMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migration dir %q: %w", dir, err)
	}

	byVersion := map[int64]*migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		parts := scriptName.FindStringSubmatch(entry.Name())
		if parts == nil {
			continue
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version of %q: %w", entry.Name(), err)
		}
		script, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		item, ok := byVersion[version]
		if !ok {
			item = &migration{Version: version, Name: parts[2]}
			byVersion[version] = item
		} else if item.Name != parts[2] {
			return nil, fmt.Errorf("migration %d has conflicting names %q and %q", version, item.Name, parts[2])
		}
		if parts[3] == "up" {
			item.UpSQL = string(script)
		} else {
			item.DownSQL = string(script)
		}
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, item := range byVersion {
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("migration %d missing up SQL", item.Version)
		}
		if strings.TrimSpace(item.DownSQL) == "" {
			return nil, fmt.Errorf("migration %d missing down SQL", item.Version)
		}
		sum := sha256.Sum256([]byte(item.UpSQL))
		item.Checksum = hex.EncodeToString(sum[:])
		migrations = append(migrations, *item)
	}
	slices.SortFunc(migrations, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return migrations, nil
}
