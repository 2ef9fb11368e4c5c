package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/querylens/querylens/internal/config"
)

func TestTraceMiddlewareKeepsValidIncomingID(t *testing.T) {
	var seen string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/ask", nil)
	req.Header.Set(traceHeader, "ask-42")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if seen != "ask-42" || rr.Header().Get(traceHeader) != "ask-42" {
		t.Fatalf("context trace = %q, header = %q", seen, rr.Header().Get(traceHeader))
	}
}

func TestTraceMiddlewareReplacesUnusableID(t *testing.T) {
	for name, incoming := range map[string]string{
		"missing":   "",
		"oversized": strings.Repeat("a", maxTraceIDBytes+1),
		"spaces":    "two words",
	} {
		t.Run(name, func(t *testing.T) {
			h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}))
			req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
			if incoming != "" {
				req.Header.Set(traceHeader, incoming)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			got := rr.Header().Get(traceHeader)
			if got == "" || got == incoming {
				t.Fatalf("trace header = %q", got)
			}
		})
	}
}

func TestLoggingMiddlewareLevelFollowsStatus(t *testing.T) {
	cases := map[int]string{
		http.StatusCreated:               "INFO",
		http.StatusNotFound:              "WARN",
		http.StatusBadGateway:            "ERROR",
		http.StatusRequestEntityTooLarge: "WARN",
	}
	for status, level := range cases {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		mux := http.NewServeMux()
		mux.HandleFunc("POST /v1/uploads/{table}/query", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("{}"))
		})
		LoggingMiddleware(logger)(mux).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/uploads/csv_data_1/query", nil))

		var record map[string]any
		if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
			t.Fatalf("decode log record: %v (%s)", err, buf.String())
		}
		if record["level"] != level || record["status"] != float64(status) {
			t.Fatalf("status %d record = %v", status, record)
		}
		if record["route"] != "POST /v1/uploads/{table}/query" || record["bytes"] != float64(2) {
			t.Fatalf("record = %v", record)
		}
	}
}

func TestResponseRecorderKeepsFirstStatus(t *testing.T) {
	recorder := newResponseRecorder(httptest.NewRecorder())
	recorder.WriteHeader(http.StatusAccepted)
	recorder.WriteHeader(http.StatusInternalServerError)
	if recorder.status != http.StatusAccepted {
		t.Fatalf("status = %d", recorder.status)
	}
	if _, ok := any(recorder).(http.Flusher); !ok {
		t.Fatal("recorder should expose http.Flusher")
	}
}

func TestMetricsMiddlewareReleasesInFlight(t *testing.T) {
	before := testutil.ToFloat64(httpRequestsInFlight)
	var during float64
	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		during = testutil.ToFloat64(httpRequestsInFlight)
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if during-before != 1 {
		t.Fatalf("in-flight during request = %v, before = %v", during, before)
	}
	if after := testutil.ToFloat64(httpRequestsInFlight); after != before {
		t.Fatalf("in-flight after request = %v, want %v", after, before)
	}
}

func TestNewLoggerAddsTraceIDFromContext(t *testing.T) {
	cfg, err := config.Load("querylens-api", map[string]string{"QUERYLENS_LOG_JSON": "true"})
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	var buf bytes.Buffer
	logger := NewLogger(cfg, &buf).With(slog.String("stage", "generate"))

	logger.InfoContext(ContextWithTraceID(context.Background(), "trace-7"), "sql generated")
	logger.InfoContext(context.Background(), "no trace")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("log lines = %q", lines)
	}
	if !strings.Contains(lines[0], `"trace_id":"trace-7"`) || !strings.Contains(lines[0], `"stage":"generate"`) {
		t.Fatalf("first record = %s", lines[0])
	}
	if strings.Contains(lines[1], "trace_id") {
		t.Fatalf("second record = %s", lines[1])
	}
}
