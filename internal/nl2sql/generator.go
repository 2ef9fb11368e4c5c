package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/querylens/querylens/internal/completion"
	"github.com/querylens/querylens/internal/schema"
)

var ErrGenerationFailed = errors.New("failed to generate query")

var tableIdentifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidateTableIdentifier accepts lower-case unquoted Postgres identifiers.
func ValidateTableIdentifier(name string) error {
	if !tableIdentifierPattern.MatchString(name) {
		return fmt.Errorf("invalid table identifier %q", name)
	}
	return nil
}

type Request struct {
	Question string
	// Schema grounds the prompt in an uploaded table. Nil selects the fixed
	// placements schema.
	Schema *schema.Descriptor
}

type Generator struct {
	completions completion.Service
}

func NewGenerator(completions completion.Service) *Generator {
	return &Generator{completions: completions}
}

// Generate returns a candidate SQL statement. Any failure wraps
// ErrGenerationFailed and no statement is returned.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return "", fmt.Errorf("%w: question is required", ErrGenerationFailed)
	}
	if req.Schema != nil {
		if err := ValidateTableIdentifier(req.Schema.Table); err != nil {
			return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
		}
	}

	resp, err := g.completions.Complete(ctx, completion.Request{
		Messages: []completion.Message{
			{Role: completion.RoleSystem, Content: buildSystemPrompt(req.Schema)},
			{Role: completion.RoleUser, Content: buildUserPrompt(question)},
		},
		Shape: &completion.Shape{
			Name:   "query",
			Schema: completion.ObjectSchema(map[string]any{"query": map[string]any{"type": "string"}}, "query"),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	sqlText := extractQuery(resp.Text)
	if sqlText == "" {
		return "", fmt.Errorf("%w: model returned no query", ErrGenerationFailed)
	}
	if req.Schema != nil {
		sqlText = strings.ReplaceAll(sqlText, TablePlaceholder, req.Schema.Table)
	}
	return sqlText, nil
}

func extractQuery(text string) string {
	var shaped struct {
		Query string `json:"query"`
	}
	if err := completion.DecodeJSON(text, &shaped); err == nil {
		return strings.TrimSpace(completion.StripFence(shaped.Query))
	}
	stripped := completion.StripFence(text)
	if strings.HasPrefix(stripped, "{") {
		return ""
	}
	return stripped
}
