package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/parquet-go/parquet-go"

	"github.com/querylens/querylens/internal/datastore"
	"github.com/querylens/querylens/internal/storage"
)

const salesCSV = "Region,Sales,Joined\nnorth,10.5,31/01/2024\nsouth,,2024-02-01\n"

func fixedNow() time.Time {
	return time.UnixMilli(1700000000000)
}

type memoryStore struct {
	objects  map[string][]byte
	metadata map[string]map[string]string
	putErr  map[string]error
	deleted []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, metadata: map[string]map[string]string{}, putErr: map[string]error{}}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	if err := m.putErr[key]; err != nil {
		return storage.ObjectInfo{}, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.objects[key] = data
	m.metadata[key] = opts.Metadata
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), ContentType: opts.ContentType, Metadata: opts.Metadata}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), Metadata: m.metadata[key]}, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	delete(m.objects, key)
	return nil
}

func expectSalesImport(mock sqlmock.Sqlmock, prelude ...string) {
	mock.ExpectBegin()
	for _, statement := range prelude {
		mock.ExpectExec(regexp.QuoteMeta(statement)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE csv_data_1700000000000 (")).WillReturnResult(sqlmock.NewResult(0, 0))
	insert := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO csv_data_1700000000000 (region, sales, joined) VALUES ($1, $2, $3)"))
	insert.ExpectExec().WithArgs("north", 10.5, "2024-01-31").WillReturnResult(sqlmock.NewResult(1, 1))
	insert.ExpectExec().WithArgs("south", nil, "2024-02-01").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()
}

func TestImportCreatesTableAndInsertsRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	expectSalesImport(mock)

	result, err := NewImporter(db, Config{Now: fixedNow}).Import(context.Background(), strings.NewReader(salesCSV))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if result.TableName != "csv_data_1700000000000" || result.RowCount != 2 {
		t.Fatalf("result = %+v", result)
	}
	if strings.Join(result.Columns, ",") != "region,sales,joined" {
		t.Fatalf("columns = %v", result.Columns)
	}
	if result.ColumnTypes[1].String() != "decimal" || result.ColumnTypes[2].String() != "date" {
		t.Fatalf("column types = %v", result.ColumnTypes)
	}
	if len(result.Archived) != 0 {
		t.Fatalf("archived without an archive: %v", result.Archived)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet() error = %v", err)
	}
}

func TestImportDuckDBCreatesSequence(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	expectSalesImport(mock, "CREATE SEQUENCE IF NOT EXISTS csv_data_1700000000000_id_seq")

	importer := NewImporter(db, Config{Dialect: datastore.DialectDuckDB, Now: fixedNow})
	if _, err := importer.Import(context.Background(), strings.NewReader(salesCSV)); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet() error = %v", err)
	}
}

func TestImportArchivesSourceAndSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	expectSalesImport(mock)

	store := newMemoryStore()
	archive := NewArchive(store)
	result, err := NewImporter(db, Config{Archive: archive, Now: fixedNow}).Import(context.Background(), strings.NewReader(salesCSV))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if len(result.Archived) != 2 {
		t.Fatalf("archived = %v", result.Archived)
	}
	if string(store.objects["uploads/csv_data_1700000000000/source.csv"]) != salesCSV {
		t.Fatal("raw CSV not archived verbatim")
	}

	snapshot := store.objects["uploads/csv_data_1700000000000/snapshot.parquet"]
	file, err := parquet.OpenFile(bytes.NewReader(snapshot), int64(len(snapshot)))
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if file.NumRows() != 2 {
		t.Fatalf("NumRows() = %d", file.NumRows())
	}
	for _, column := range []string{"region", "sales", "joined"} {
		if _, ok := file.Schema().Lookup(column); !ok {
			t.Fatalf("snapshot missing column %q", column)
		}
	}

	body, info, err := archive.Open(context.Background(), result.TableName, storage.ArtifactSource)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = body.Close() }()
	if info.ContentType != "text/csv" || info.Size != int64(len(salesCSV)) {
		t.Fatalf("info = %+v", info)
	}
	if info.Metadata[storage.MetaRowCount] != "2" || info.Metadata[storage.MetaColumns] != "region,sales,joined" {
		t.Fatalf("metadata = %v", info.Metadata)
	}
}

func TestImportContinuesWhenArchiveFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	expectSalesImport(mock)

	store := newMemoryStore()
	store.putErr["uploads/csv_data_1700000000000/snapshot.parquet"] = errors.New("bucket full")
	result, err := NewImporter(db, Config{Archive: NewArchive(store), Now: fixedNow}).Import(context.Background(), strings.NewReader(salesCSV))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if len(result.Archived) != 0 {
		t.Fatalf("archived = %v", result.Archived)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "uploads/csv_data_1700000000000/source.csv" {
		t.Fatalf("partial archive not removed: %v", store.deleted)
	}
}

func TestImportRemovesArchiveWhenLoadFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE csv_data_1700000000000 (")).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	store := newMemoryStore()
	_, err = NewImporter(db, Config{Archive: NewArchive(store), Now: fixedNow}).Import(context.Background(), strings.NewReader(salesCSV))
	if !errors.Is(err, ErrImportFailed) {
		t.Fatalf("Import() error = %v, want ErrImportFailed", err)
	}
	if len(store.objects) != 0 || len(store.deleted) != 2 {
		t.Fatalf("objects = %v deleted = %v", store.objects, store.deleted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet() error = %v", err)
	}
}

func TestImportRejectsBadInput(t *testing.T) {
	importer := NewImporter(nil, Config{Now: fixedNow})
	if _, err := importer.Import(context.Background(), strings.NewReader("")); !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("Import(empty) error = %v", err)
	}
	if _, err := importer.Import(context.Background(), strings.NewReader("a,b\n\"unterminated\n")); !errors.Is(err, ErrInvalidCSV) {
		t.Fatalf("Import(malformed) error = %v", err)
	}
}

func TestArchiveOpenWhenDisabled(t *testing.T) {
	var archive *Archive
	if _, _, err := archive.Open(context.Background(), "csv_data_1", storage.ArtifactSource); !errors.Is(err, ErrArchiveDisabled) {
		t.Fatalf("Open() error = %v", err)
	}
}
