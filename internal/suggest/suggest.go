package suggest

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
	"gopkg.in/yaml.v3"
)

//go:embed suggestions.yaml
var defaultYAML []byte

type Suggestion struct {
	Question string `yaml:"question" json:"question"`
	Topic    string `yaml:"topic" json:"topic,omitempty"`
}

type file struct {
	Suggestions []Suggestion `yaml:"suggestions"`
}

// Default returns the embedded starter questions.
func Default() ([]Suggestion, error) {
	return Parse(defaultYAML)
}

// Parse decodes a suggestions document. Entries without a question are an
// error.
func Parse(data []byte) ([]Suggestion, error) {
	var decoded file
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("parse suggestions: %w", err)
	}
	suggestions := make([]Suggestion, 0, len(decoded.Suggestions))
	for i, suggestion := range decoded.Suggestions {
		suggestion.Question = strings.TrimSpace(suggestion.Question)
		if suggestion.Question == "" {
			return nil, fmt.Errorf("suggestion %d: question is required", i+1)
		}
		suggestion.Topic = strings.TrimSpace(suggestion.Topic)
		suggestions = append(suggestions, suggestion)
	}
	return suggestions, nil
}

type questions []Suggestion

func (q questions) String(i int) string { return strings.ToLower(q[i].Question) }
func (q questions) Len() int            { return len(q) }

// Filter returns the suggestions whose question fuzzy-matches pattern, best
// match first. A blank pattern returns suggestions unchanged.
func Filter(suggestions []Suggestion, pattern string) []Suggestion {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return suggestions
	}
	matches := fuzzy.FindFrom(pattern, questions(suggestions))
	filtered := make([]Suggestion, 0, len(matches))
	for _, match := range matches {
		filtered = append(filtered, suggestions[match.Index])
	}
	return filtered
}
