package suggest

import (
	"strings"
	"testing"
)

func TestDefaultSuggestions(t *testing.T) {
	suggestions, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if len(suggestions) != 6 {
		t.Fatalf("len(suggestions) = %d, want 6", len(suggestions))
	}
	if suggestions[0].Question != "Show me the average package by department" {
		t.Fatalf("first suggestion = %+v", suggestions[0])
	}
	if suggestions[5].Question != "What are the top 5 companies by placement count?" {
		t.Fatalf("last suggestion = %+v", suggestions[5])
	}
}

func TestParseRejectsMissingQuestion(t *testing.T) {
	_, err := Parse([]byte("suggestions:\n  - topic: orphan\n"))
	if err == nil || !strings.Contains(err.Error(), "question is required") {
		t.Fatalf("Parse() error = %v", err)
	}
	if _, err := Parse([]byte("suggestions: [")); err == nil {
		t.Fatal("expected YAML error")
	}
}

func TestFilterRanksFuzzyMatches(t *testing.T) {
	suggestions, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	if got := Filter(suggestions, "  "); len(got) != len(suggestions) {
		t.Fatalf("blank pattern returned %d suggestions", len(got))
	}
	got := Filter(suggestions, "TOP 5")
	if len(got) != 1 || got[0].Question != "What are the top 5 companies by placement count?" {
		t.Fatalf("Filter(top 5) = %+v", got)
	}
	if got := Filter(suggestions, "qqq"); len(got) != 0 {
		t.Fatalf("Filter(qqq) = %+v", got)
	}
}
