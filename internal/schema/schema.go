package schema

import (
	"errors"
	"fmt"
	"strings"

	"hermannm.dev/enumnames"
)

var ErrTableNotFound = errors.New("table not found")

type ColumnType uint8

const (
	ColumnTypeInteger ColumnType = iota + 1
	ColumnTypeDecimal
	ColumnTypeBoolean
	ColumnTypeDate
	ColumnTypeText
)

var columnTypeNames = enumnames.NewMap(map[ColumnType]string{
	ColumnTypeInteger: "integer",
	ColumnTypeDecimal: "decimal",
	ColumnTypeBoolean: "boolean",
	ColumnTypeDate:    "date",
	ColumnTypeText:    "text",
})

func (columnType ColumnType) IsValid() bool {
	return columnTypeNames.ContainsEnumValue(columnType)
}

func (columnType ColumnType) String() string {
	return columnTypeNames.GetNameOrFallback(columnType, "invalid")
}

func (columnType ColumnType) MarshalJSON() ([]byte, error) {
	return columnTypeNames.MarshalToNameJSON(columnType)
}

func (columnType *ColumnType) UnmarshalJSON(bytes []byte) error {
	return columnTypeNames.UnmarshalFromNameJSON(bytes, columnType)
}

type Column struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Nullable bool       `json:"nullable"`
}

// Descriptor describes one table's columns in ordinal order.
type Descriptor struct {
	Table   string   `json:"table"`
	Columns []Column `json:"columns"`
}

func (d Descriptor) ColumnNames() []string {
	names := make([]string, 0, len(d.Columns))
	for _, column := range d.Columns {
		names = append(names, column.Name)
	}
	return names
}

// Text renders the descriptor for prompt grounding, using tableName in place
// of the descriptor's own table. Pass "" to keep d.Table.
func (d Descriptor) Text(tableName string) string {
	if tableName == "" {
		tableName = d.Table
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (\n", tableName)
	for i, column := range d.Columns {
		fmt.Fprintf(&b, "  %s %s", column.Name, column.Type)
		if !column.Nullable {
			b.WriteString(" NOT NULL")
		}
		if i < len(d.Columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(");")
	return b.String()
}

// Placements is the fixed schema of the seeded placements table.
var Placements = Descriptor{
	Table: "placements",
	Columns: []Column{
		{Name: "id", Type: ColumnTypeInteger},
		{Name: "name", Type: ColumnTypeText},
		{Name: "dob", Type: ColumnTypeDate, Nullable: true},
		{Name: "cpi", Type: ColumnTypeDecimal, Nullable: true},
		{Name: "tenth_percentage", Type: ColumnTypeDecimal, Nullable: true},
		{Name: "twelfth_percentage", Type: ColumnTypeDecimal, Nullable: true},
		{Name: "company_placed", Type: ColumnTypeText, Nullable: true},
		{Name: "package_lpa", Type: ColumnTypeDecimal, Nullable: true},
		{Name: "department", Type: ColumnTypeText, Nullable: true},
		{Name: "role", Type: ColumnTypeText, Nullable: true},
		{Name: "location", Type: ColumnTypeText, Nullable: true},
		{Name: "internship_done", Type: ColumnTypeBoolean, Nullable: true},
		{Name: "rounds_cleared", Type: ColumnTypeInteger, Nullable: true},
	},
}

// PlacementsDDL is the declared schema of the placements table as presented to
// the model when no dynamic descriptor is in play.
const PlacementsDDL = `placements (
  id SERIAL PRIMARY KEY,
  name VARCHAR(255) NOT NULL,
  dob DATE,
  cpi DECIMAL(4, 2),
  tenth_percentage DECIMAL(5, 2),
  twelfth_percentage DECIMAL(5, 2),
  company_placed VARCHAR(255),
  package_lpa DECIMAL(5, 2),
  department VARCHAR(255),
  role VARCHAR(255),
  location VARCHAR(255),
  internship_done BOOLEAN,
  rounds_cleared INTEGER
);`

// MapDataType folds a datastore type name into a ColumnType. Unknown names map
// to text.
func MapDataType(dataType string) ColumnType {
	normalized := strings.ToLower(strings.TrimSpace(dataType))
	if idx := strings.IndexByte(normalized, '('); idx >= 0 {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	switch normalized {
	case "integer", "int", "int2", "int4", "int8", "smallint", "bigint", "tinyint", "hugeint",
		"ubigint", "uinteger", "usmallint", "utinyint", "serial", "bigserial":
		return ColumnTypeInteger
	case "numeric", "decimal", "real", "double precision", "double", "float", "float4", "float8":
		return ColumnTypeDecimal
	case "boolean", "bool":
		return ColumnTypeBoolean
	case "date":
		return ColumnTypeDate
	default:
		return ColumnTypeText
	}
}
