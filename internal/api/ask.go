package api

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/querylens/querylens/internal/explain"
	"github.com/querylens/querylens/internal/guard"
	"github.com/querylens/querylens/internal/nl2sql"
	"github.com/querylens/querylens/internal/pipeline"
	"github.com/querylens/querylens/internal/query"
)

const targetMissingHint = "upload data or seed the placements table"

type askRequest struct {
	Question string `json:"question"`
	Table    string `json:"table,omitempty"`
}

type runRequest struct {
	SQL string `json:"sql"`
}

type chartRequest struct {
	Question string      `json:"question"`
	Columns  []string    `json:"columns"`
	Rows     []query.Row `json:"rows"`
}

type explainRequest struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
	Table    string `json:"table,omitempty"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) {
		return
	}
	var req askRequest
	if !decodeRequest(w, r, &req, "invalid ask request body") {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	answer, err := deps.Pipeline.Ask(r.Context(), pipeline.Request{Question: req.Question, Table: req.Table})
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) {
		return
	}
	descriptor, err := deps.Pipeline.Describe(r.Context(), r.URL.Query().Get("table"))
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, descriptor)
}

func handleGenerate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) {
		return
	}
	var req askRequest
	if !decodeRequest(w, r, &req, "invalid generate request body") {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	sqlText, err := deps.Pipeline.Generate(r.Context(), req.Question, req.Table)
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sql": sqlText})
}

func handleRun(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) {
		return
	}
	var req runRequest
	if !decodeRequest(w, r, &req, "invalid run request body") {
		return
	}

	results, err := deps.Pipeline.Run(r.Context(), req.SQL)
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	writeResultSet(w, results)
}

func handleChart(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) {
		return
	}
	var req chartRequest
	if !decodeRequest(w, r, &req, "invalid chart request body") {
		return
	}

	results := query.ResultSet{Columns: req.Columns, Rows: req.Rows}
	if len(results.Columns) == 0 && len(results.Rows) > 0 {
		results.Columns = columnsOf(results.Rows[0])
	}
	cfg, data := deps.Pipeline.Chart(r.Context(), results, req.Question)
	writeJSON(w, http.StatusOK, map[string]any{"config": cfg, "data": data})
}

func handleExplain(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requirePipeline(deps, w, r) {
		return
	}
	var req explainRequest
	if !decodeRequest(w, r, &req, "invalid explain request body") {
		return
	}

	sections, err := deps.Pipeline.Explain(r.Context(), req.Question, req.SQL, req.Table)
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"explanations": sections})
}

// writePipelineError maps a stage failure to its status and error code.
func writePipelineError(ctx context.Context, w http.ResponseWriter, err error) {
	var rejection *guard.Rejection
	var execErr *query.ExecutionError
	switch {
	case errors.Is(err, pipeline.ErrInvalidTable):
		writeError(ctx, w, http.StatusBadRequest, "INVALID_TABLE", err.Error(), false, nil)
	case errors.As(err, &rejection):
		writeError(ctx, w, http.StatusBadRequest, "SQL_REJECTED", rejection.Error(), false, map[string]any{"reason": rejection.Reason})
	case errors.Is(err, nl2sql.ErrGenerationFailed):
		writeError(ctx, w, http.StatusBadGateway, "GENERATION_FAILED", err.Error(), true, nil)
	case errors.Is(err, query.ErrTargetMissing):
		writeError(ctx, w, http.StatusNotFound, "TARGET_MISSING", err.Error(), false, map[string]any{"hint": targetMissingHint})
	case errors.Is(err, explain.ErrExplanationFailed):
		writeError(ctx, w, http.StatusBadGateway, "EXPLANATION_FAILED", err.Error(), true, nil)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(ctx, w, http.StatusGatewayTimeout, "REQUEST_TIMEOUT", "request timed out", true, nil)
	case errors.As(err, &execErr):
		writeError(ctx, w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", "query execution failed", false, map[string]any{"details": execErr.Err.Error()})
	default:
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "internal error", false, map[string]any{"details": err.Error()})
	}
}

func requirePipeline(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return false
	}
	return true
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target any, message string) bool {
	if err := decodeJSON(r, target); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", message, false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func writeResultSet(w http.ResponseWriter, results query.ResultSet) {
	columns, rows := results.Columns, results.Rows
	if columns == nil {
		columns = []string{}
	}
	if rows == nil {
		rows = []query.Row{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"columns":   columns,
		"rows":      rows,
		"row_count": len(rows),
	})
}

func columnsOf(row query.Row) []string {
	return slices.Sorted(maps.Keys(row))
}
