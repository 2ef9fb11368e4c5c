package chart

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/querylens/querylens/internal/completion"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/query"
)

const (
	sourceModel    = "model"
	sourceFallback = "fallback"
	sourceEmpty    = "empty"
)

const systemPrompt = "You are a data visualization expert."

// Synthesizer asks the model for a chart configuration and falls back to a
// heuristic one whenever the model's answer is unusable.
type Synthesizer struct {
	completions completion.Service
	promptRows  int
	logger      *slog.Logger
}

type SynthesizerConfig struct {
	// PromptRows caps how many result rows are included in the prompt.
	PromptRows int
	Logger     *slog.Logger
}

func NewSynthesizer(completions completion.Service, cfg SynthesizerConfig) *Synthesizer {
	promptRows := cfg.PromptRows
	if promptRows <= 0 {
		promptRows = 200
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Synthesizer{completions: completions, promptRows: promptRows, logger: logger}
}

// Synthesize never fails: model and decoding errors resolve to Fallback, and
// an empty result resolves to Empty without calling the model.
func (s *Synthesizer) Synthesize(ctx context.Context, results query.ResultSet, question string) Config {
	start := time.Now()
	cfg, source := s.resolve(ctx, results, question)
	observability.ObserveChartSynthesis(source, time.Since(start))
	return cfg
}

func (s *Synthesizer) resolve(ctx context.Context, results query.ResultSet, question string) (Config, string) {
	if results.IsEmpty() {
		return Empty(), sourceEmpty
	}
	if s.completions == nil {
		return Fallback(results), sourceFallback
	}

	prompt, err := s.buildPrompt(results, question)
	if err != nil {
		s.logger.WarnContext(ctx, "chart prompt build failed, using fallback", slog.Any("error", err))
		return Fallback(results), sourceFallback
	}
	resp, err := s.completions.Complete(ctx, completion.Request{
		Messages: []completion.Message{
			{Role: completion.RoleSystem, Content: systemPrompt},
			{Role: completion.RoleUser, Content: prompt},
		},
		Shape: &completion.Shape{Name: "chart_config", Schema: configSchema()},
	})
	if err != nil {
		s.logger.WarnContext(ctx, "chart completion failed, using fallback", slog.Any("error", err))
		return Fallback(results), sourceFallback
	}
	cfg, err := parseModelConfig(resp.Text)
	if err != nil {
		s.logger.WarnContext(ctx, "chart config invalid, using fallback", slog.Any("error", err))
		return Fallback(results), sourceFallback
	}
	return cfg, sourceModel
}

func (s *Synthesizer) buildPrompt(results query.ResultSet, question string) (string, error) {
	rows := results.Rows
	if len(rows) > s.promptRows {
		rows = rows[:s.promptRows]
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result rows: %w", err)
	}
	truncated := ""
	if len(rows) < len(results.Rows) {
		truncated = fmt.Sprintf("\n(showing the first %d of %d rows)", len(rows), len(results.Rows))
	}
	return fmt.Sprintf(`Given the following data from a SQL query result, generate the chart config that best visualises the data and answers the user's query.
For multiple groups, use multi-lines if appropriate.

User Query:
%s

Data:
%s%s`, question, string(data), truncated), nil
}

func configSchema() map[string]any {
	stringArray := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	return completion.ObjectSchema(map[string]any{
		"description": map[string]any{
			"type":        "string",
			"description": "Describe the chart. What is it showing? What is interesting about the way the data is displayed?",
		},
		"takeaway": map[string]any{"type": "string", "description": "What is the main takeaway from the chart?"},
		"type": map[string]any{
			"type":        "string",
			"enum":        []string{"bar", "line", "area", "pie", "scatter"},
			"description": "Type of chart",
		},
		"title": map[string]any{"type": "string"},
		"xKey":  map[string]any{"type": "string", "description": "Key for x-axis or category"},
		"yKeys": withDescription(stringArray, "Key(s) for y-axis values; the quantitative column(s)"),
		"multipleLines": map[string]any{
			"type":        "boolean",
			"description": "For line charts only: whether the chart is comparing groups of data.",
		},
		"measurementColumn": map[string]any{
			"type":        "string",
			"description": "For line charts only: key for the quantitative y-axis column to measure against",
		},
		"lineCategories": withDescription(stringArray,
			"For line charts only: Categories used to compare different lines or data series. Each category represents a distinct line in the chart."),
		"legend": map[string]any{"type": "boolean", "description": "Whether to show legend"},
	}, "description", "takeaway", "type", "title", "xKey", "yKeys", "legend")
}

func withDescription(schema map[string]any, description string) map[string]any {
	out := make(map[string]any, len(schema)+1)
	for key, value := range schema {
		out[key] = value
	}
	out["description"] = description
	return out
}
