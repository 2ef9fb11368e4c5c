package upload

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"

	"hermannm.dev/wrap"

	"github.com/querylens/querylens/internal/schema"
)

var ErrEmptyFile = errors.New("CSV file is empty")

// reservedColumns are created by the importer itself.
var reservedColumns = map[string]struct{}{"id": {}}

// Dataset is a parsed CSV file with sanitized, typed columns.
type Dataset struct {
	Headers []string
	Columns []schema.Column
	Records [][]string
}

func (d Dataset) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, column := range d.Columns {
		names[i] = column.Name
	}
	return names
}

// ParseCSV reads a header row followed by records. Fields are trimmed, blank
// lines skipped and every record must have as many fields as the header.
func ParseCSV(input io.Reader) (Dataset, error) {
	reader := csv.NewReader(input)
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Dataset{}, ErrEmptyFile
	}
	if err != nil {
		return Dataset{}, wrap.Error(err, "failed to read CSV header row")
	}
	headers = trimAll(headers)
	headers[0] = strings.TrimPrefix(headers[0], "\ufeff")

	var records [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Dataset{}, wrap.Errorf(err, "failed to read CSV row %d", len(records)+2)
		}
		record = trimAll(record)
		if isBlank(record) {
			continue
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return Dataset{}, ErrEmptyFile
	}

	names := uniqueColumnNames(headers)
	columns := make([]schema.Column, len(headers))
	values := make([]string, len(records))
	for i := range headers {
		for row, record := range records {
			values[row] = record[i]
		}
		columns[i] = schema.Column{Name: names[i], Type: InferType(values), Nullable: true}
	}

	return Dataset{Headers: headers, Columns: columns, Records: records}, nil
}

// Values converts one record to driver values in column order.
func (d Dataset) Values(record []string) ([]any, error) {
	values := make([]any, len(d.Columns))
	for i, column := range d.Columns {
		value, err := convert(record[i], column.Type)
		if err != nil {
			return nil, wrap.Errorf(err, "invalid value in column '%s'", column.Name)
		}
		values[i] = value
	}
	return values, nil
}

// uniqueColumnNames sanitizes headers and suffixes names that collide with
// an earlier column or a reserved one.
func uniqueColumnNames(headers []string) []string {
	seen := make(map[string]struct{}, len(headers))
	for name := range reservedColumns {
		seen[name] = struct{}{}
	}
	names := make([]string, len(headers))
	for i, header := range headers {
		base := SanitizeColumnName(header)
		if base == "" {
			base = "column_" + strconv.Itoa(i+1)
		}
		name := base
		for n := 2; ; n++ {
			if _, taken := seen[name]; !taken {
				break
			}
			name = base + "_" + strconv.Itoa(n)
		}
		seen[name] = struct{}{}
		names[i] = name
	}
	return names
}

func trimAll(fields []string) []string {
	for i, field := range fields {
		fields[i] = strings.TrimSpace(field)
	}
	return fields
}

func isBlank(record []string) bool {
	for _, field := range record {
		if field != "" {
			return false
		}
	}
	return true
}
