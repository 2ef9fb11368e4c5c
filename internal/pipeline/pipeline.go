package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/querylens/querylens/internal/chart"
	"github.com/querylens/querylens/internal/explain"
	"github.com/querylens/querylens/internal/guard"
	"github.com/querylens/querylens/internal/nl2sql"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/query"
	"github.com/querylens/querylens/internal/schema"
)

var ErrInvalidTable = errors.New("invalid table name")

const (
	outcomeOK            = "ok"
	outcomeError         = "error"
	outcomeTargetMissing = "target_missing"
)

type SchemaSource interface {
	Describe(ctx context.Context, table string) (schema.Descriptor, error)
}

type SQLGenerator interface {
	Generate(ctx context.Context, req nl2sql.Request) (string, error)
}

type Executor interface {
	Execute(ctx context.Context, statement guard.Authorized) (query.ResultSet, error)
}

type ChartSynthesizer interface {
	Synthesize(ctx context.Context, results query.ResultSet, question string) chart.Config
}

type Explainer interface {
	Explain(ctx context.Context, req explain.Request) ([]explain.Section, error)
}

type Config struct {
	// DefaultTable is answered with the fixed placements prompt instead of a
	// schema lookup.
	DefaultTable string
	Logger       *slog.Logger
}

type Pipeline struct {
	schemas   SchemaSource
	generator SQLGenerator
	executor  Executor
	charts    ChartSynthesizer
	explainer Explainer
	cfg       Config
	logger    *slog.Logger
}

func New(schemas SchemaSource, generator SQLGenerator, executor Executor, charts ChartSynthesizer, explainer Explainer, cfg Config) *Pipeline {
	if strings.TrimSpace(cfg.DefaultTable) == "" {
		cfg.DefaultTable = schema.Placements.Table
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		schemas:   schemas,
		generator: generator,
		executor:  executor,
		charts:    charts,
		explainer: explainer,
		cfg:       cfg,
		logger:    logger,
	}
}

type Request struct {
	Question string
	// Table selects an uploaded table. Empty selects the default table.
	Table string
}

// Answer is the outcome of one question. Explanations is empty and
// ExplanationError set when only the explanation stage failed.
type Answer struct {
	SQL              string            `json:"sql"`
	Columns          []string          `json:"columns"`
	Rows             []query.Row       `json:"rows"`
	Chart            chart.Config      `json:"chart"`
	ChartData        []query.Row       `json:"chart_data"`
	Explanations     []explain.Section `json:"explanations"`
	ExplanationError string            `json:"explanation_error,omitempty"`
}

// Ask runs generate, authorize and execute in order, then synthesizes the
// chart and explanation concurrently. Only the first three stages can fail
// the request.
func (p *Pipeline) Ask(ctx context.Context, req Request) (Answer, error) {
	descriptor, err := p.resolveSchema(ctx, req.Table)
	if err != nil {
		return Answer{}, err
	}
	sqlText, err := p.generate(ctx, req.Question, descriptor)
	if err != nil {
		return Answer{}, err
	}
	results, err := p.Run(ctx, sqlText)
	if err != nil {
		return Answer{}, err
	}

	answer := Answer{
		SQL:          sqlText,
		Columns:      nonNilColumns(results.Columns),
		Rows:         nonNilRows(results.Rows),
		Explanations: []explain.Section{},
	}

	var group errgroup.Group
	group.Go(func() error {
		answer.Chart, answer.ChartData = p.Chart(ctx, results, req.Question)
		return nil
	})
	group.Go(func() error {
		sections, err := p.explain(ctx, req.Question, sqlText, descriptor)
		if err != nil {
			answer.ExplanationError = err.Error()
			return nil
		}
		answer.Explanations = sections
		return nil
	})
	_ = group.Wait()

	return answer, nil
}

// Describe returns the column metadata for table, or the default table when
// table is empty.
func (p *Pipeline) Describe(ctx context.Context, table string) (schema.Descriptor, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		table = p.cfg.DefaultTable
	}
	if err := nl2sql.ValidateTableIdentifier(table); err != nil {
		return schema.Descriptor{}, fmt.Errorf("%w: %w", ErrInvalidTable, err)
	}
	start := time.Now()
	descriptor, err := p.schemas.Describe(ctx, table)
	observability.ObserveStage(observability.StageSchema, time.Since(start))
	if err != nil {
		if errors.Is(err, schema.ErrTableNotFound) {
			return schema.Descriptor{}, fmt.Errorf("%w: %w", query.ErrTargetMissing, err)
		}
		return schema.Descriptor{}, err
	}
	return descriptor, nil
}

// Generate returns candidate SQL for question against table. The SQL is not
// authorized.
func (p *Pipeline) Generate(ctx context.Context, question, table string) (string, error) {
	descriptor, err := p.resolveSchema(ctx, table)
	if err != nil {
		return "", err
	}
	return p.generate(ctx, question, descriptor)
}

// Run authorizes sqlText and executes it. Rejected text never reaches the
// executor.
func (p *Pipeline) Run(ctx context.Context, sqlText string) (query.ResultSet, error) {
	statement, err := guard.Authorize(sqlText)
	observability.ObserveGuardDecision(err == nil)
	if err != nil {
		p.logger.WarnContext(ctx, "sql rejected", "error", err)
		return query.ResultSet{}, err
	}

	start := time.Now()
	results, err := p.executor.Execute(ctx, statement)
	elapsed := time.Since(start)
	switch {
	case err == nil:
		observability.ObserveQueryExecution(outcomeOK, elapsed)
	case errors.Is(err, query.ErrTargetMissing):
		observability.ObserveQueryExecution(outcomeTargetMissing, elapsed)
		return query.ResultSet{}, err
	default:
		observability.ObserveQueryExecution(outcomeError, elapsed)
		p.logger.WarnContext(ctx, "query execution failed", "error", err)
		return query.ResultSet{}, err
	}
	p.logger.DebugContext(ctx, "query executed", "rows", results.Len(), "duration", elapsed)
	return results, nil
}

// Chart returns the chart configuration for results and the rows shaped for
// rendering it.
func (p *Pipeline) Chart(ctx context.Context, results query.ResultSet, question string) (chart.Config, []query.Row) {
	cfg := p.charts.Synthesize(ctx, results, question)
	data := chart.Shape(cfg, results)
	if data == nil {
		data = []query.Row{}
	}
	return cfg, data
}

func (p *Pipeline) Explain(ctx context.Context, question, sqlText, table string) ([]explain.Section, error) {
	descriptor, err := p.resolveSchema(ctx, table)
	if err != nil {
		return nil, err
	}
	return p.explain(ctx, question, sqlText, descriptor)
}

func (p *Pipeline) resolveSchema(ctx context.Context, table string) (*schema.Descriptor, error) {
	table = strings.TrimSpace(table)
	if table == "" || table == p.cfg.DefaultTable {
		return nil, nil
	}
	descriptor, err := p.Describe(ctx, table)
	if err != nil {
		return nil, err
	}
	return &descriptor, nil
}

func (p *Pipeline) generate(ctx context.Context, question string, descriptor *schema.Descriptor) (string, error) {
	start := time.Now()
	sqlText, err := p.generator.Generate(ctx, nl2sql.Request{Question: question, Schema: descriptor})
	if err != nil {
		observability.ObserveGeneration(outcomeError, time.Since(start))
		p.logger.WarnContext(ctx, "sql generation failed", "error", err)
		return "", err
	}
	observability.ObserveGeneration(outcomeOK, time.Since(start))
	p.logger.DebugContext(ctx, "sql generated", "sql", sqlText)
	return sqlText, nil
}

func (p *Pipeline) explain(ctx context.Context, question, sqlText string, descriptor *schema.Descriptor) ([]explain.Section, error) {
	start := time.Now()
	sections, err := p.explainer.Explain(ctx, explain.Request{Question: question, SQL: sqlText, Schema: descriptor})
	if err != nil {
		observability.ObserveExplanation(outcomeError, time.Since(start))
		p.logger.WarnContext(ctx, "explanation failed", "error", err)
		return nil, err
	}
	observability.ObserveExplanation(outcomeOK, time.Since(start))
	return sections, nil
}

func nonNilColumns(columns []string) []string {
	if columns == nil {
		return []string{}
	}
	return columns
}

func nonNilRows(rows []query.Row) []query.Row {
	if rows == nil {
		return []query.Row{}
	}
	return rows
}
