package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querylens/querylens/internal/auth"
	"github.com/querylens/querylens/internal/chart"
	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/explain"
	"github.com/querylens/querylens/internal/guard"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/pipeline"
	"github.com/querylens/querylens/internal/query"
	"github.com/querylens/querylens/internal/schema"
	"github.com/querylens/querylens/internal/storage"
	"github.com/querylens/querylens/internal/suggest"
	"github.com/querylens/querylens/internal/upload"
)

type ReadinessCheck func(ctx context.Context) error

// Pipeline answers questions and exposes each stage on its own.
type Pipeline interface {
	Ask(ctx context.Context, req pipeline.Request) (pipeline.Answer, error)
	Describe(ctx context.Context, table string) (schema.Descriptor, error)
	Generate(ctx context.Context, question, table string) (string, error)
	Run(ctx context.Context, sqlText string) (query.ResultSet, error)
	Chart(ctx context.Context, results query.ResultSet, question string) (chart.Config, []query.Row)
	Explain(ctx context.Context, question, sqlText, table string) ([]explain.Section, error)
}

type Uploader interface {
	Import(ctx context.Context, input io.Reader) (upload.Result, error)
}

type ArtifactSource interface {
	Open(ctx context.Context, table string, artifact storage.Artifact) (io.ReadCloser, storage.ObjectInfo, error)
}

type SnapshotQuerier interface {
	Execute(ctx context.Context, table string, statement guard.Authorized) (query.ResultSet, error)
}

type Assistant interface {
	Reply(ctx context.Context, message string, chartData, tableInfo any) (string, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Pipeline          Pipeline
	Uploads           Uploader
	Archive           ArtifactSource
	Snapshots         SnapshotQuerier
	Assistant         Assistant
	Suggestions       []suggest.Suggestion
}

type route struct {
	pattern string
	role    auth.Role
	handle  func(deps Dependencies, w http.ResponseWriter, r *http.Request)
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/suggestions", func(w http.ResponseWriter, r *http.Request) {
		suggestions := suggest.Filter(deps.Suggestions, r.URL.Query().Get("q"))
		if suggestions == nil {
			suggestions = []suggest.Suggestion{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
	})

	routes := []route{
		{pattern: "GET /v1/schema", role: auth.RoleAnalyst, handle: handleSchema},
		{pattern: "POST /v1/query/generate", role: auth.RoleAnalyst, handle: handleGenerate},
		{pattern: "POST /v1/query/run", role: auth.RoleAnalyst, handle: handleRun},
		{pattern: "POST /v1/chart", role: auth.RoleAnalyst, handle: handleChart},
		{pattern: "POST /v1/explain", role: auth.RoleAnalyst, handle: handleExplain},
		{pattern: "POST /v1/ask", role: auth.RoleAnalyst, handle: handleAsk},
		{pattern: "POST /v1/chat", role: auth.RoleAnalyst, handle: handleChat},
		{pattern: "POST /v1/upload", role: auth.RoleUploader, handle: func(deps Dependencies, w http.ResponseWriter, r *http.Request) {
			handleUpload(cfg.Upload, deps, w, r)
		}},
		{pattern: "GET /v1/uploads/{table}/{artifact}", role: auth.RoleUploader, handle: handleDownload},
		{pattern: "POST /v1/uploads/{table}/query", role: auth.RoleAnalyst, handle: handleSnapshotQuery},
	}

	protected := http.NewServeMux()
	for _, rt := range routes {
		handle := rt.handle
		protected.Handle(rt.pattern, auth.RequireRole(rt.role)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handle(deps, w, r)
		})))
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	protectedHandler = requestTimeout(cfg.HTTP.RequestTimeout)(protectedHandler)
	for _, rt := range routes {
		mux.Handle(rt.pattern, protectedHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// requestTimeout bounds the context of every model and datastore call made
// while serving a request. A zero timeout leaves the context unchanged.
func requestTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

func CheckDatastore(db Pinger) ReadinessCheck {
	return func(ctx context.Context) error {
		if db == nil {
			return errors.New("datastore is not configured")
		}
		if err := db.PingContext(ctx); err != nil {
			return errors.Join(errors.New("datastore is unreachable"), err)
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.ObjectStore.Enabled {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CheckAIConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.AI.APIKey == "" {
			return errors.New("ai api key is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}
