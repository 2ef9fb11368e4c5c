package chart

import (
	"sort"

	"github.com/querylens/querylens/internal/query"
)

// Fallback derives a bar chart from the first result row's columns. An empty
// result yields the Empty configuration.
func Fallback(results query.ResultSet) Config {
	columns := columnsOf(results)
	if len(columns) == 0 {
		return Empty()
	}
	yKey := columns[0]
	if len(columns) > 1 {
		yKey = columns[1]
	}
	yKeys := []string{yKey}
	return Config{
		Type:        TypeBar,
		Title:       "Query results",
		Description: "Chart of the query results.",
		Takeaway:    "Review the chart for trends in the data.",
		XKey:        columns[0],
		YKeys:       yKeys,
		Legend:      false,
		Colors:      AssignColors(yKeys),
	}
}

// Empty is the configuration used when a query returns no rows.
func Empty() Config {
	return Config{
		Type:        TypeBar,
		Title:       "No data",
		Description: "The query returned no rows.",
		Takeaway:    "",
		XKey:        "",
		YKeys:       []string{},
		Legend:      false,
		Colors:      map[string]string{},
	}
}

// columnsOf returns the result's declared columns, or the first row's keys in
// sorted order when none are declared.
func columnsOf(results query.ResultSet) []string {
	if len(results.Rows) == 0 {
		return nil
	}
	if len(results.Columns) > 0 {
		return results.Columns
	}
	keys := make([]string, 0, len(results.Rows[0]))
	for key := range results.Rows[0] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
