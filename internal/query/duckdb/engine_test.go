package duckdb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/querylens/querylens/internal/guard"
	"github.com/querylens/querylens/internal/query"
	"github.com/querylens/querylens/internal/storage"
	"github.com/querylens/querylens/internal/upload"
)

type memorySnapshots struct {
	objects map[string][]byte
	opened  []string
}

func (m *memorySnapshots) Open(_ context.Context, table string, artifact storage.Artifact) (io.ReadCloser, storage.ObjectInfo, error) {
	key, err := storage.UploadPath(table, artifact)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	m.opened = append(m.opened, key)
	payload, ok := m.objects[key]
	if !ok {
		return nil, storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(payload)), storage.ObjectInfo{Key: key, Size: int64(len(payload))}, nil
}

func snapshotOf(t *testing.T, table, csvText string) []byte {
	t.Helper()
	dataset, err := upload.ParseCSV(strings.NewReader(csvText))
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	payload, err := upload.EncodeSnapshot(table, dataset)
	if err != nil {
		t.Fatalf("EncodeSnapshot() error = %v", err)
	}
	return payload
}

func authorize(t *testing.T, sqlText string) guard.Authorized {
	t.Helper()
	statement, err := guard.Authorize(sqlText)
	if err != nil {
		t.Fatalf("Authorize(%q) error = %v", sqlText, err)
	}
	return statement
}

func TestExecuteReadsSnapshotThroughArchive(t *testing.T) {
	source := &memorySnapshots{objects: map[string][]byte{
		"uploads/csv_data_1/snapshot.parquet": snapshotOf(t, "csv_data_1", "region,sales\nnorth,1.5\nsouth,\nnorth,4\n"),
	}}
	engine := NewEngine(source)

	results, err := engine.Execute(context.Background(), "csv_data_1",
		authorize(t, "SELECT region, COUNT(*) AS n FROM csv_data_1 GROUP BY region ORDER BY region"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(source.opened) != 1 || source.opened[0] != "uploads/csv_data_1/snapshot.parquet" {
		t.Fatalf("opened = %v", source.opened)
	}
	if results.Len() != 2 {
		t.Fatalf("rows = %+v", results.Rows)
	}
	if results.Rows[0]["region"] != "north" || results.Rows[0]["n"] != int64(2) {
		t.Fatalf("first row = %#v", results.Rows[0])
	}
	if len(results.Columns) != 2 || results.Columns[0] != "region" || results.Columns[1] != "n" {
		t.Fatalf("columns = %v", results.Columns)
	}
}

func TestExecuteNullFieldsNormalizeToEmptyText(t *testing.T) {
	source := &memorySnapshots{objects: map[string][]byte{
		"uploads/csv_data_2/snapshot.parquet": snapshotOf(t, "csv_data_2", "region,sales\nsouth,\n"),
	}}

	results, err := NewEngine(source).Execute(context.Background(), "csv_data_2", authorize(t, "SELECT sales FROM csv_data_2"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if results.Rows[0]["sales"] != "" {
		t.Fatalf("sales = %#v", results.Rows[0]["sales"])
	}
}

func TestExecuteMissingSnapshotIsTargetMissing(t *testing.T) {
	engine := NewEngine(&memorySnapshots{objects: map[string][]byte{}})
	_, err := engine.Execute(context.Background(), "csv_data_9", authorize(t, "SELECT * FROM csv_data_9"))
	if !errors.Is(err, query.ErrTargetMissing) {
		t.Fatalf("Execute() error = %v, want ErrTargetMissing", err)
	}
}

func TestExecuteRequiresAuthorizedStatement(t *testing.T) {
	engine := NewEngine(&memorySnapshots{})
	if _, err := engine.Execute(context.Background(), "csv_data_1", guard.Authorized{}); !errors.Is(err, query.ErrUnauthorized) {
		t.Fatalf("Execute() error = %v, want ErrUnauthorized", err)
	}
}

func TestExecuteClassifiesQueryErrors(t *testing.T) {
	source := &memorySnapshots{objects: map[string][]byte{
		"uploads/csv_data_3/snapshot.parquet": snapshotOf(t, "csv_data_3", "a\n1\n"),
	}}
	_, err := NewEngine(source).Execute(context.Background(), "csv_data_3", authorize(t, "SELECT missing_column FROM csv_data_3"))
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v, want *query.ExecutionError", err)
	}
}
