package upload

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"hermannm.dev/wrap"

	"github.com/querylens/querylens/internal/datastore"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/schema"
)

var (
	ErrImportFailed = errors.New("failed to process CSV file")
	ErrInvalidCSV   = errors.New("invalid CSV file")
)

type DB interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

type Config struct {
	Dialect datastore.Dialect
	// Archive is optional.
	Archive *Archive
	Logger  *slog.Logger
	Now     func() time.Time
}

// Importer turns an uploaded CSV file into a new csv_data_<millis> table.
type Importer struct {
	db      DB
	dialect datastore.Dialect
	archive *Archive
	logger  *slog.Logger
	now     func() time.Time
}

func NewImporter(db DB, cfg Config) *Importer {
	dialect := cfg.Dialect
	if dialect == "" {
		dialect = datastore.DialectPostgres
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Importer{db: db, dialect: dialect, archive: cfg.Archive, logger: logger, now: now}
}

type Result struct {
	TableName   string              `json:"table_name"`
	Columns     []string            `json:"columns"`
	ColumnTypes []schema.ColumnType `json:"column_types"`
	RowCount    int                 `json:"row_count"`
	Archived    []string            `json:"archived,omitempty"`
}

// Import parses input, archives it when an archive is configured, and loads
// it into a new table in one transaction. Archive failures are logged only.
func (i *Importer) Import(ctx context.Context, input io.Reader) (Result, error) {
	start := time.Now()
	raw, err := io.ReadAll(input)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrImportFailed, wrap.Error(err, "failed to read upload"))
	}
	dataset, err := ParseCSV(bytes.NewReader(raw))
	if err != nil {
		if errors.Is(err, ErrEmptyFile) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidCSV, err)
	}

	table := fmt.Sprintf("csv_data_%d", i.now().UnixMilli())
	archived := i.save(ctx, table, raw, dataset)

	if err := i.load(ctx, table, dataset); err != nil {
		if len(archived) > 0 {
			if removeErr := i.archive.Remove(ctx, archived); removeErr != nil {
				i.logger.WarnContext(ctx, "failed to remove archive of failed upload", "table", table, "error", removeErr)
			}
		}
		return Result{}, fmt.Errorf("%w: %w", ErrImportFailed, err)
	}

	observability.ObserveUpload(len(dataset.Records), time.Since(start))
	i.logger.InfoContext(ctx, "csv uploaded", "table", table, "rows", len(dataset.Records), "columns", len(dataset.Columns))

	types := make([]schema.ColumnType, len(dataset.Columns))
	for idx, column := range dataset.Columns {
		types[idx] = column.Type
	}
	return Result{
		TableName:   table,
		Columns:     dataset.ColumnNames(),
		ColumnTypes: types,
		RowCount:    len(dataset.Records),
		Archived:    archived,
	}, nil
}

func (i *Importer) save(ctx context.Context, table string, raw []byte, dataset Dataset) []string {
	if i.archive == nil {
		return nil
	}
	keys, err := i.archive.Save(ctx, table, raw, dataset)
	if err != nil {
		i.logger.WarnContext(ctx, "upload archive failed", "table", table, "error", err)
		return nil
	}
	return keys
}

func (i *Importer) load(ctx context.Context, table string, dataset Dataset) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap.Error(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	prelude, createSQL := i.createTableSQL(table, dataset)
	for _, statement := range prelude {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return wrap.Errorf(err, "failed to prepare table '%s'", table)
		}
	}
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return wrap.Errorf(err, "failed to create table '%s'", table)
	}

	insert, err := tx.PrepareContext(ctx, insertSQL(table, dataset))
	if err != nil {
		return wrap.Error(err, "failed to prepare insert statement")
	}
	defer func() { _ = insert.Close() }()

	for row, record := range dataset.Records {
		values, err := dataset.Values(record)
		if err != nil {
			return wrap.Errorf(err, "failed to convert row %d", row+1)
		}
		if _, err := insert.ExecContext(ctx, values...); err != nil {
			return wrap.Errorf(err, "failed to insert row %d", row+1)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrap.Error(err, "failed to commit upload")
	}
	return nil
}

func (i *Importer) createTableSQL(table string, dataset Dataset) ([]string, string) {
	prelude, idColumn := i.dialect.AutoIncrementDDL(table, "id")
	definitions := make([]string, 0, len(dataset.Columns)+1)
	definitions = append(definitions, idColumn)
	for _, column := range dataset.Columns {
		definitions = append(definitions, column.Name+" "+SQLType(column.Type))
	}
	return prelude, fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", table, strings.Join(definitions, ",\n  "))
}

func insertSQL(table string, dataset Dataset) string {
	placeholders := make([]string, len(dataset.Columns))
	for idx := range placeholders {
		placeholders[idx] = fmt.Sprintf("$%d", idx+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(dataset.ColumnNames(), ", "), strings.Join(placeholders, ", "))
}
