package explain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/querylens/querylens/internal/completion"
	"github.com/querylens/querylens/internal/schema"
)

var ErrExplanationFailed = errors.New("failed to generate query explanation")

// Section explains one clause of a statement. Explanation may be empty.
type Section struct {
	Section     string `json:"section"`
	Explanation string `json:"explanation"`
}

type Request struct {
	Question string
	SQL      string
	// Schema describes the queried table. Nil selects the placements schema.
	Schema *schema.Descriptor
}

type Generator struct {
	completions completion.Service
}

func NewGenerator(completions completion.Service) *Generator {
	return &Generator{completions: completions}
}

func (g *Generator) Explain(ctx context.Context, req Request) ([]Section, error) {
	if strings.TrimSpace(req.SQL) == "" {
		return nil, fmt.Errorf("%w: sql is required", ErrExplanationFailed)
	}
	resp, err := g.completions.Complete(ctx, completion.Request{
		Messages: []completion.Message{
			{Role: completion.RoleSystem, Content: systemPrompt(req.Schema)},
			{Role: completion.RoleUser, Content: userPrompt(req.Question, req.SQL)},
		},
		Shape: &completion.Shape{Name: "explanations", Schema: explanationsSchema()},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExplanationFailed, err)
	}

	var decoded struct {
		Explanations []Section `json:"explanations"`
	}
	if err := completion.DecodeJSON(resp.Text, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExplanationFailed, err)
	}

	sections := make([]Section, 0, len(decoded.Explanations))
	for _, section := range decoded.Explanations {
		section.Section = strings.TrimSpace(section.Section)
		if section.Section == "" {
			continue
		}
		section.Explanation = strings.TrimSpace(section.Explanation)
		sections = append(sections, section)
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("%w: model returned no sections", ErrExplanationFailed)
	}
	return sections, nil
}

func systemPrompt(descriptor *schema.Descriptor) string {
	tableSchema := schema.PlacementsDDL
	fromExample := "FROM placements"
	if descriptor != nil {
		tableSchema = descriptor.Text("")
		fromExample = "FROM " + descriptor.Table
	}
	return fmt.Sprintf(`You are a SQL (postgres) expert. Your job is to explain the SQL query you wrote to retrieve the data the user asked for.
The table schema is as follows:

%s

When you explain the query, break it down into unique sections. For example:
"SELECT ...", "%s", "WHERE ..." etc.
If a section has no explanation, still include it but leave the explanation empty.`, tableSchema, fromExample)
}

func userPrompt(question, sqlText string) string {
	return fmt.Sprintf(`Explain the SQL query you generated to retrieve the data the user wanted. Assume the user is not an expert in SQL. Break down the query:

User Query:
%s

Generated SQL Query:
%s`, question, sqlText)
}

func explanationsSchema() map[string]any {
	section := completion.ObjectSchema(map[string]any{
		"section":     map[string]any{"type": "string"},
		"explanation": map[string]any{"type": "string"},
	}, "section", "explanation")
	return completion.ObjectSchema(map[string]any{
		"explanations": map[string]any{"type": "array", "items": section},
	}, "explanations")
}
