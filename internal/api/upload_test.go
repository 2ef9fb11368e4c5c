package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/querylens/querylens/internal/auth"
	"github.com/querylens/querylens/internal/guard"
	"github.com/querylens/querylens/internal/query"
	"github.com/querylens/querylens/internal/schema"
	"github.com/querylens/querylens/internal/storage"
	"github.com/querylens/querylens/internal/upload"
)

type fakeUploads struct {
	result   upload.Result
	err      error
	received string
}

func (f *fakeUploads) Import(_ context.Context, input io.Reader) (upload.Result, error) {
	raw, err := io.ReadAll(input)
	if err != nil {
		return upload.Result{}, err
	}
	f.received = string(raw)
	return f.result, f.err
}

type fakeArchive struct {
	objects map[string]string
	err     error
}

func (f *fakeArchive) Open(_ context.Context, table string, artifact storage.Artifact) (io.ReadCloser, storage.ObjectInfo, error) {
	if f.err != nil {
		return nil, storage.ObjectInfo{}, f.err
	}
	key, err := storage.UploadPath(table, artifact)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	body, ok := f.objects[key]
	if !ok {
		return nil, storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	info := storage.ObjectInfo{
		Key:         key,
		Size:        int64(len(body)),
		ContentType: artifact.ContentType(),
		ETag:        "etag-1",
		Metadata:    map[string]string{storage.MetaRowCount: "1"},
	}
	return io.NopCloser(strings.NewReader(body)), info, nil
}

func multipartRequest(t *testing.T, field, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUploadEndpointImportsFile(t *testing.T) {
	uploads := &fakeUploads{result: upload.Result{
		TableName:   "csv_data_1700000000000",
		Columns:     []string{"region", "sales"},
		ColumnTypes: []schema.ColumnType{schema.ColumnTypeText, schema.ColumnTypeDecimal},
		RowCount:    2,
	}}
	h := NewHandler(testConfig(t, map[string]string{}), Dependencies{Uploads: uploads})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, multipartRequest(t, "file", "sales.csv", "region,sales\nnorth,1.5\nsouth,2.25\n"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if !strings.HasPrefix(uploads.received, "region,sales") {
		t.Fatalf("received = %q", uploads.received)
	}
	body := decodeBody(t, rr)
	if body["table_name"] != "csv_data_1700000000000" || body["row_count"] != float64(2) {
		t.Fatalf("body = %v", body)
	}
}

func TestUploadEndpointErrors(t *testing.T) {
	cases := []struct {
		name   string
		field  string
		err    error
		status int
		code   string
	}{
		{name: "missing file", field: "attachment", status: http.StatusBadRequest, code: "FILE_REQUIRED"},
		{name: "empty", field: "file", err: upload.ErrEmptyFile, status: http.StatusBadRequest, code: "EMPTY_FILE"},
		{name: "invalid csv", field: "file", err: fmt.Errorf("%w: wrong number of fields", upload.ErrInvalidCSV), status: http.StatusBadRequest, code: "INVALID_CSV"},
		{name: "load failed", field: "file", err: fmt.Errorf("%w: connection reset", upload.ErrImportFailed), status: http.StatusInternalServerError, code: "UPLOAD_FAILED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(testConfig(t, map[string]string{}), Dependencies{Uploads: &fakeUploads{err: tc.err}})
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, multipartRequest(t, tc.field, "data.csv", "a,b\n1,2\n"))
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d body=%s", rr.Code, tc.status, rr.Body.String())
			}
			if body := decodeBody(t, rr); body["error_code"] != tc.code {
				t.Fatalf("error_code = %v, want %s", body["error_code"], tc.code)
			}
		})
	}
}

func TestUploadEndpointEnforcesSizeLimit(t *testing.T) {
	cfg := testConfig(t, map[string]string{"QUERYLENS_UPLOAD_MAX_BYTES": "64"})
	h := NewHandler(cfg, Dependencies{Uploads: &fakeUploads{}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, multipartRequest(t, "file", "big.csv", "a,b\n"+strings.Repeat("1,2\n", 100)))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestUploadEndpointRequiresUploaderRole(t *testing.T) {
	cfg := testConfig(t, map[string]string{"QUERYLENS_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("k1:analyst-user:analyst")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	h := NewHandler(cfg, Dependencies{AuthMiddleware: auth.Middleware(nil, validator), Uploads: &fakeUploads{}})

	req := multipartRequest(t, "file", "data.csv", "a\n1\n")
	req.Header.Set("X-API-Key", "k1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestDownloadEndpointStreamsArtifact(t *testing.T) {
	archive := &fakeArchive{objects: map[string]string{"uploads/csv_data_1/source.csv": "a,b\n1,2\n"}}
	h := NewHandler(testConfig(t, map[string]string{}), Dependencies{Archive: archive})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/uploads/csv_data_1/source", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Content-Type") != "text/csv" || rr.Header().Get("ETag") != "etag-1" || rr.Header().Get("X-Row-Count") != "1" {
		t.Fatalf("headers = %v", rr.Header())
	}
	if rr.Body.String() != "a,b\n1,2\n" {
		t.Fatalf("body = %q", rr.Body.String())
	}
}

func TestDownloadEndpointErrors(t *testing.T) {
	cases := []struct {
		name    string
		path    string
		archive ArtifactSource
		status  int
		code    string
	}{
		{name: "not configured", path: "/v1/uploads/csv_data_1/source", status: http.StatusNotImplemented, code: "ARCHIVE_NOT_CONFIGURED"},
		{name: "disabled archive", path: "/v1/uploads/csv_data_1/source", archive: &fakeArchive{err: upload.ErrArchiveDisabled}, status: http.StatusNotImplemented, code: "ARCHIVE_NOT_CONFIGURED"},
		{name: "unknown artifact", path: "/v1/uploads/csv_data_1/thumbnail", archive: &fakeArchive{}, status: http.StatusBadRequest, code: "INVALID_ARTIFACT"},
		{name: "missing object", path: "/v1/uploads/csv_data_1/snapshot", archive: &fakeArchive{}, status: http.StatusNotFound, code: "ARTIFACT_NOT_FOUND"},
		{name: "invalid table", path: "/v1/uploads/Bad-Name/source", archive: &fakeArchive{}, status: http.StatusBadRequest, code: "INVALID_TABLE"},
		{name: "store failure", path: "/v1/uploads/csv_data_1/source", archive: &fakeArchive{err: errors.New("connection refused")}, status: http.StatusBadGateway, code: "ARCHIVE_READ_FAILED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := Dependencies{}
			if tc.archive != nil {
				deps.Archive = tc.archive
			}
			h := NewHandler(testConfig(t, map[string]string{}), deps)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d body=%s", rr.Code, tc.status, rr.Body.String())
			}
			if body := decodeBody(t, rr); body["error_code"] != tc.code {
				t.Fatalf("error_code = %v, want %s", body["error_code"], tc.code)
			}
		})
	}
}

type fakeSnapshots struct {
	results query.ResultSet
	err     error
	table   string
	sql     string
}

func (f *fakeSnapshots) Execute(_ context.Context, table string, statement guard.Authorized) (query.ResultSet, error) {
	f.table, f.sql = table, statement.SQL()
	return f.results, f.err
}

func TestSnapshotQueryEndpoint(t *testing.T) {
	snapshots := &fakeSnapshots{results: query.ResultSet{Columns: []string{"n"}, Rows: []query.Row{{"n": int64(3)}}}}
	h := NewHandler(testConfig(t, map[string]string{}), Dependencies{Snapshots: snapshots})

	rr := postJSON(t, h, "/v1/uploads/csv_data_1/query", `{"sql":"SELECT COUNT(*) AS n FROM csv_data_1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if snapshots.table != "csv_data_1" || snapshots.sql != "SELECT COUNT(*) AS n FROM csv_data_1" {
		t.Fatalf("executed %q on %q", snapshots.sql, snapshots.table)
	}
	if body := decodeBody(t, rr); body["row_count"] != float64(1) {
		t.Fatalf("body = %v", body)
	}
}

func TestSnapshotQueryEndpointErrors(t *testing.T) {
	cases := []struct {
		name      string
		sql       string
		snapshots SnapshotQuerier
		status    int
		code      string
	}{
		{name: "not configured", sql: "SELECT 1", status: http.StatusNotImplemented, code: "ARCHIVE_NOT_CONFIGURED"},
		{name: "rejected", sql: "DROP TABLE csv_data_1", snapshots: &fakeSnapshots{}, status: http.StatusBadRequest, code: "SQL_REJECTED"},
		{name: "missing snapshot", sql: "SELECT 1", snapshots: &fakeSnapshots{err: query.ErrTargetMissing}, status: http.StatusNotFound, code: "TARGET_MISSING"},
		{name: "invalid table", sql: "SELECT 1", snapshots: &fakeSnapshots{err: fmt.Errorf("%w: bad", storage.ErrInvalidKey)}, status: http.StatusBadRequest, code: "INVALID_TABLE"},
		{name: "disabled", sql: "SELECT 1", snapshots: &fakeSnapshots{err: upload.ErrArchiveDisabled}, status: http.StatusNotImplemented, code: "ARCHIVE_NOT_CONFIGURED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := Dependencies{}
			if tc.snapshots != nil {
				deps.Snapshots = tc.snapshots
			}
			h := NewHandler(testConfig(t, map[string]string{}), deps)
			rr := postJSON(t, h, "/v1/uploads/csv_data_1/query", `{"sql":"`+tc.sql+`"}`)
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d body=%s", rr.Code, tc.status, rr.Body.String())
			}
			if body := decodeBody(t, rr); body["error_code"] != tc.code {
				t.Fatalf("error_code = %v, want %s", body["error_code"], tc.code)
			}
		})
	}
}
