package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/querylens/querylens/internal/completion"
)

var ErrChatFailed = errors.New("failed to process chat message")

const noResponse = "No response generated"

type AssistantConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Assistant answers free-form questions about the chart and table currently
// on screen.
type Assistant struct {
	completions completion.Service
	cfg         AssistantConfig
}

func NewAssistant(completions completion.Service, cfg AssistantConfig) *Assistant {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	return &Assistant{completions: completions, cfg: cfg}
}

// Reply sends message with chartData and tableInfo as JSON context. Either
// context value may be nil.
func (a *Assistant) Reply(ctx context.Context, message string, chartData, tableInfo any) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", fmt.Errorf("%w: message is required", ErrChatFailed)
	}
	contextJSON, err := json.MarshalIndent(map[string]any{
		"chartData": chartData,
		"tableInfo": tableInfo,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: marshal context: %w", ErrChatFailed, err)
	}

	resp, err := a.completions.Complete(ctx, completion.Request{
		Model: a.cfg.Model,
		Messages: []completion.Message{
			{Role: completion.RoleSystem, Content: systemPrompt(string(contextJSON))},
			{Role: completion.RoleUser, Content: message},
		},
		Temperature: completion.Temperature(a.cfg.Temperature),
		MaxTokens:   a.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrChatFailed, err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return noResponse, nil
	}
	return resp.Text, nil
}

func systemPrompt(contextJSON string) string {
	return `You are a data analysis expert helping users understand their data and charts.
You have access to:
1. The current chart data and configuration
2. Table information including schema and sample data

When users ask questions:
- Provide clear, concise insights about the data
- Explain patterns or trends you notice
- Suggest additional analyses they might find interesting
- Keep responses focused and relevant to the data

Current context:
` + contextJSON
}
