package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Describer reads column metadata for a named table from information_schema.
type Describer struct {
	db Querier
}

func NewDescriber(db Querier) *Describer {
	return &Describer{db: db}
}

const describeQuery = `SELECT column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_name = $1
ORDER BY ordinal_position`

func (d *Describer) Describe(ctx context.Context, table string) (Descriptor, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return Descriptor{}, fmt.Errorf("table name is required")
	}

	rows, err := d.db.QueryContext(ctx, describeQuery, table)
	if err != nil {
		return Descriptor{}, fmt.Errorf("query columns for %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	descriptor := Descriptor{Table: table}
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return Descriptor{}, fmt.Errorf("scan column: %w", err)
		}
		descriptor.Columns = append(descriptor.Columns, Column{
			Name:     name,
			Type:     MapDataType(dataType),
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return Descriptor{}, fmt.Errorf("rows error: %w", err)
	}
	if len(descriptor.Columns) == 0 {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return descriptor, nil
}
