// Package duckdb replays statements against the archived parquet snapshot of
// an uploaded table using an in-memory DuckDB database.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/querylens/querylens/internal/guard"
	"github.com/querylens/querylens/internal/query"
	"github.com/querylens/querylens/internal/storage"
)

type SnapshotSource interface {
	Open(ctx context.Context, table string, artifact storage.Artifact) (io.ReadCloser, storage.ObjectInfo, error)
}

type Engine struct {
	source SnapshotSource
}

func NewEngine(source SnapshotSource) *Engine {
	return &Engine{source: source}
}

// Execute runs statement with table bound to a view over the table's parquet
// snapshot. Snapshot columns are text, so results carry string values.
func (e *Engine) Execute(ctx context.Context, table string, statement guard.Authorized) (query.ResultSet, error) {
	if statement.IsZero() {
		return query.ResultSet{}, query.ErrUnauthorized
	}
	if e.source == nil {
		return query.ResultSet{}, fmt.Errorf("snapshot source is required")
	}

	body, _, err := e.source.Open(ctx, table, storage.ArtifactSnapshot)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return query.ResultSet{}, fmt.Errorf("%w: no snapshot for %s", query.ErrTargetMissing, table)
		}
		return query.ResultSet{}, fmt.Errorf("open snapshot %q: %w", table, err)
	}
	defer func() { _ = body.Close() }()

	workDir, err := os.MkdirTemp("", "querylens-snapshot-")
	if err != nil {
		return query.ResultSet{}, fmt.Errorf("create snapshot temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	localPath := filepath.Join(workDir, "snapshot.parquet")
	if err := writeFile(localPath, body); err != nil {
		return query.ResultSet{}, fmt.Errorf("write local snapshot %q: %w", localPath, err)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return query.ResultSet{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()
	// The view lives in one in-memory database; keep every statement on it.
	db.SetMaxOpenConns(1)

	viewSQL := fmt.Sprintf(`CREATE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(table), quoteString(localPath))
	if _, err := db.ExecContext(ctx, viewSQL); err != nil {
		return query.ResultSet{}, fmt.Errorf("create view for table %q: %w", table, err)
	}

	return query.NewExecutor(db).Execute(ctx, statement)
}

func writeFile(path string, reader io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
