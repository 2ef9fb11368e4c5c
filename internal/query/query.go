package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrTargetMissing reports that the queried relation does not exist.
	ErrTargetMissing = errors.New("target table does not exist")
	ErrUnauthorized  = errors.New("statement was not authorized")
)

// ExecutionError wraps any datastore failure other than a missing target.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("query execution failed: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Row maps column name to a normalized scalar: string, int64 or float64.
type Row map[string]any

// ResultSet holds rows in datastore order. Columns follows the first row and
// is empty when there are no rows.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

func (r ResultSet) Len() int {
	return len(r.Rows)
}

func (r ResultSet) IsEmpty() bool {
	return len(r.Rows) == 0
}

type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}
