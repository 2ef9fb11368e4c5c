package upload

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// EncodeSnapshot writes the dataset as parquet. Every column is an optional
// string holding the trimmed CSV field; empty fields are null.
func EncodeSnapshot(table string, dataset Dataset) ([]byte, error) {
	group := parquet.Group{}
	for _, column := range dataset.Columns {
		group[column.Name] = parquet.Optional(parquet.String())
	}
	snapshotSchema := parquet.NewSchema(table, group)

	indexes := make([]int, len(dataset.Columns))
	for i, column := range dataset.Columns {
		leaf, ok := snapshotSchema.Lookup(column.Name)
		if !ok {
			return nil, fmt.Errorf("column %q missing from parquet schema", column.Name)
		}
		indexes[i] = leaf.ColumnIndex
	}

	rows := make([]parquet.Row, 0, len(dataset.Records))
	for _, record := range dataset.Records {
		row := make(parquet.Row, len(indexes))
		for i, field := range record {
			index := indexes[i]
			if field == "" {
				row[index] = parquet.NullValue().Level(0, 0, index)
				continue
			}
			row[index] = parquet.ByteArrayValue([]byte(field)).Level(0, 1, index)
		}
		rows = append(rows, row)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, snapshotSchema)
	if _, err := writer.WriteRows(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
