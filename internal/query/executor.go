package query

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/querylens/querylens/internal/guard"
)

const pgUndefinedTable = "42P01"

// Executor runs authorized statements exactly once. It applies no limit and
// no retry.
type Executor struct {
	db Querier
}

func NewExecutor(db Querier) *Executor {
	return &Executor{db: db}
}

func (e *Executor) Execute(ctx context.Context, statement guard.Authorized) (ResultSet, error) {
	if statement.IsZero() {
		return ResultSet{}, ErrUnauthorized
	}

	rows, err := e.db.QueryContext(ctx, statement.SQL())
	if err != nil {
		return ResultSet{}, classify(err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return ResultSet{}, &ExecutionError{Err: fmt.Errorf("query columns: %w", err)}
	}
	dbTypes := make([]string, len(columns))
	if columnTypes, err := rows.ColumnTypes(); err == nil && len(columnTypes) == len(columns) {
		for i, columnType := range columnTypes {
			dbTypes[i] = strings.ToUpper(columnType.DatabaseTypeName())
		}
	}

	result := ResultSet{Columns: []string{}, Rows: []Row{}}
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return ResultSet{}, &ExecutionError{Err: fmt.Errorf("scan row: %w", err)}
		}
		row := make(Row, len(columns))
		for i, column := range columns {
			if _, seen := row[column]; seen {
				continue
			}
			row[column] = normalizeValue(values[i], dbTypes[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return ResultSet{}, classify(err)
	}

	if len(result.Rows) > 0 {
		result.Columns = uniqueColumns(columns)
	}
	return result, nil
}

func classify(err error) error {
	if IsTargetMissing(err) {
		return fmt.Errorf("%w: %w", ErrTargetMissing, err)
	}
	return &ExecutionError{Err: err}
}

// IsTargetMissing reports whether err is a datastore relation-not-found error.
func IsTargetMissing(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTargetMissing) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable {
		return true
	}
	message := err.Error()
	if strings.Contains(message, `relation "`) && strings.Contains(message, "does not exist") {
		return true
	}
	return strings.Contains(message, "Table with name") && strings.Contains(message, "does not exist")
}

func normalizeValue(value any, dbType string) any {
	switch typed := value.(type) {
	case nil:
		return ""
	case []byte:
		return normalizeText(string(typed), dbType)
	case string:
		return normalizeText(typed, dbType)
	case bool:
		return strconv.FormatBool(typed)
	case int:
		return int64(typed)
	case int8:
		return int64(typed)
	case int16:
		return int64(typed)
	case int32:
		return int64(typed)
	case int64:
		return typed
	case uint8:
		return int64(typed)
	case uint16:
		return int64(typed)
	case uint32:
		return int64(typed)
	case uint64:
		return float64(typed)
	case float32:
		return float64(typed)
	case float64:
		return typed
	case time.Time:
		if dbType == "DATE" {
			return typed.Format(time.DateOnly)
		}
		return typed.UTC().Format(time.RFC3339)
	case pgtype.Numeric:
		f, err := typed.Float64Value()
		if err != nil || !f.Valid {
			return ""
		}
		return f.Float64
	case interface{ Float64() float64 }:
		return typed.Float64()
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}

func normalizeText(value, dbType string) any {
	switch dbType {
	case "NUMERIC", "DECIMAL":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return value
}

func uniqueColumns(columns []string) []string {
	seen := make(map[string]struct{}, len(columns))
	unique := make([]string, 0, len(columns))
	for _, column := range columns {
		if _, ok := seen[column]; ok {
			continue
		}
		seen[column] = struct{}{}
		unique = append(unique, column)
	}
	return unique
}
