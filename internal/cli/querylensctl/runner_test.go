package querylensctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type capturedRequest struct {
	method  string
	path    string
	query   string
	apiKey  string
	payload map[string]any
	body    string
}

func newCaptureServer(t *testing.T, status int, response string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.query = r.URL.RawQuery
		captured.apiKey = r.Header.Get("X-API-Key")
		raw, _ := io.ReadAll(r.Body)
		captured.body = string(raw)
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			_ = json.Unmarshal(raw, &captured.payload)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunAskCommand(t *testing.T) {
	var captured capturedRequest
	srv := newCaptureServer(t, http.StatusOK, `{"sql":"SELECT 1","rows":[]}`, &captured)

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"--base-url", srv.URL,
		"--api-key", "k1",
		"ask", "average package by department",
		"--table", "csv_data_1",
	}, Options{Stdout: &stdout, Stderr: &stderr, Timeout: 2 * time.Second})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if captured.method != http.MethodPost || captured.path != "/v1/ask" {
		t.Fatalf("request = %s %s", captured.method, captured.path)
	}
	if captured.apiKey != "k1" {
		t.Fatalf("api key = %q", captured.apiKey)
	}
	if captured.payload["question"] != "average package by department" || captured.payload["table"] != "csv_data_1" {
		t.Fatalf("payload = %v", captured.payload)
	}
	if !strings.Contains(stdout.String(), "\n  \"sql\": \"SELECT 1\"") {
		t.Fatalf("expected pretty JSON output, got %s", stdout.String())
	}
}

func TestRunOmitsEmptyTable(t *testing.T) {
	var captured capturedRequest
	srv := newCaptureServer(t, http.StatusOK, `{"sql":"SELECT 1"}`, &captured)

	code := Run(context.Background(), []string{"--base-url", srv.URL, "generate", "how many students"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if captured.path != "/v1/query/generate" {
		t.Fatalf("path = %s", captured.path)
	}
	if _, ok := captured.payload["table"]; ok {
		t.Fatalf("payload should omit table: %v", captured.payload)
	}
}

func TestRunCommandRoutes(t *testing.T) {
	cases := []struct {
		args   []string
		method string
		path   string
	}{
		{args: []string{"health"}, method: http.MethodGet, path: "/v1/health"},
		{args: []string{"ready"}, method: http.MethodGet, path: "/v1/ready"},
		{args: []string{"suggestions"}, method: http.MethodGet, path: "/v1/suggestions"},
		{args: []string{"schema"}, method: http.MethodGet, path: "/v1/schema"},
		{args: []string{"run", "SELECT * FROM placements"}, method: http.MethodPost, path: "/v1/query/run"},
		{args: []string{"explain", "q", "SELECT 1"}, method: http.MethodPost, path: "/v1/explain"},
		{args: []string{"chat", "what stands out?"}, method: http.MethodPost, path: "/v1/chat"},
	}
	for _, tc := range cases {
		t.Run(tc.args[0], func(t *testing.T) {
			var captured capturedRequest
			srv := newCaptureServer(t, http.StatusOK, `{"status":"ok"}`, &captured)

			code := Run(context.Background(), append([]string{"--base-url", srv.URL}, tc.args...), Options{})
			if code != 0 {
				t.Fatalf("exit code = %d", code)
			}
			if captured.method != tc.method || captured.path != tc.path {
				t.Fatalf("request = %s %s", captured.method, captured.path)
			}
		})
	}
}

func TestRunSchemaCommandSendsTable(t *testing.T) {
	var captured capturedRequest
	srv := newCaptureServer(t, http.StatusOK, `{"table":"csv_data_1"}`, &captured)

	if code := Run(context.Background(), []string{"--base-url", srv.URL, "schema", "--table", "csv_data_1"}, Options{}); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if captured.query != "table=csv_data_1" {
		t.Fatalf("query = %q", captured.query)
	}
}

func TestRunSuggestionsCommandSendsFilter(t *testing.T) {
	var captured capturedRequest
	srv := newCaptureServer(t, http.StatusOK, `{"suggestions":[]}`, &captured)

	if code := Run(context.Background(), []string{"--base-url", srv.URL, "suggestions", "top companies"}, Options{}); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if captured.path != "/v1/suggestions" || captured.query != "q=top+companies" {
		t.Fatalf("request = %s?%s", captured.path, captured.query)
	}
}

func TestRunUploadCommand(t *testing.T) {
	var captured capturedRequest
	srv := newCaptureServer(t, http.StatusCreated, `{"table_name":"csv_data_1"}`, &captured)

	csvPath := filepath.Join(t.TempDir(), "sales.csv")
	if err := os.WriteFile(csvPath, []byte("region,sales\nnorth,1.5\n"), 0o600); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "upload", csvPath}, Options{Stderr: &stderr})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if captured.path != "/v1/upload" || !strings.Contains(captured.body, `filename="sales.csv"`) || !strings.Contains(captured.body, "north,1.5") {
		t.Fatalf("request = %s body=%s", captured.path, captured.body)
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	var captured capturedRequest
	srv := newCaptureServer(t, http.StatusBadRequest, `{"error_code":"SQL_REJECTED"}`, &captured)

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "run", "DELETE FROM placements"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "http 400") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	cases := map[string][]string{
		"unknown command": {"unknown"},
		"missing args":    {"ask"},
		"unknown flag":    {"health", "--tenant-id", "t1"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			var stderr bytes.Buffer
			code := Run(context.Background(), args, Options{Stderr: &stderr})
			if code != 2 {
				t.Fatalf("exit code = %d", code)
			}
			if stderr.Len() == 0 {
				t.Fatal("expected usage output")
			}
		})
	}
}

func TestRunUploadMissingFileFailsBeforeRequest(t *testing.T) {
	var captured capturedRequest
	srv := newCaptureServer(t, http.StatusCreated, `{}`, &captured)

	code := Run(context.Background(), []string{"--base-url", srv.URL, "upload", filepath.Join(t.TempDir(), "nope.csv")}, Options{})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if captured.path != "" {
		t.Fatalf("unexpected request to %s", captured.path)
	}
}
