package chart

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/querylens/querylens/internal/query"
)

// MaxCategoricalRows bounds the rows rendered by bar and pie charts.
const MaxCategoricalRows = 20

// Shape prepares result rows for rendering under cfg. The result set is not
// modified.
func Shape(cfg Config, results query.ResultSet) []query.Row {
	rows := Truncate(cfg.Type, Coerce(results.Rows))
	if cfg.UsesPivot() {
		return Pivot(columnsOf(results), rows, cfg)
	}
	return rows
}

// Coerce returns copies of rows with every numeric-looking string converted
// to float64.
func Coerce(rows []query.Row) []query.Row {
	coerced := make([]query.Row, 0, len(rows))
	for _, row := range rows {
		out := make(query.Row, len(row))
		for key, value := range row {
			out[key] = coerceValue(value)
		}
		coerced = append(coerced, out)
	}
	return coerced
}

func coerceValue(value any) any {
	text, ok := value.(string)
	if !ok {
		return value
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return value
	}
	number, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(number) || math.IsInf(number, 0) {
		return value
	}
	return number
}

// Truncate keeps the first MaxCategoricalRows rows for bar and pie charts.
func Truncate(chartType Type, rows []query.Row) []query.Row {
	if chartType != TypeBar && chartType != TypePie {
		return rows
	}
	if len(rows) <= MaxCategoricalRows {
		return rows
	}
	return rows[:MaxCategoricalRows]
}

// Pivot turns long rows into one row per distinct x value with a column per
// line category holding the measurement. The category column is the first
// column other than the x key and measurement whose values include a line
// category; with no line categories configured, the first such column is used
// and its distinct values become the categories. Missing (x, category) pairs
// stay absent.
func Pivot(columns []string, rows []query.Row, cfg Config) []query.Row {
	categoryColumn, categories := pivotCategories(columns, rows, cfg)
	if categoryColumn == "" {
		return rows
	}
	allowed := make(map[string]struct{}, len(categories))
	for _, category := range categories {
		allowed[category] = struct{}{}
	}

	pivoted := make([]query.Row, 0, len(rows))
	byX := make(map[string]query.Row, len(rows))
	for _, row := range rows {
		x := row[cfg.XKey]
		xKey := fmt.Sprint(x)
		out, ok := byX[xKey]
		if !ok {
			out = query.Row{cfg.XKey: x}
			byX[xKey] = out
			pivoted = append(pivoted, out)
		}
		category := fmt.Sprint(row[categoryColumn])
		if _, ok := allowed[category]; !ok {
			continue
		}
		if value, ok := row[cfg.MeasurementColumn]; ok {
			out[category] = value
		}
	}
	return pivoted
}

func pivotCategories(columns []string, rows []query.Row, cfg Config) (string, []string) {
	if len(columns) == 0 && len(rows) > 0 {
		columns = columnsOf(query.ResultSet{Rows: rows})
	}
	candidates := make([]string, 0, len(columns))
	for _, column := range columns {
		if column == cfg.XKey || column == cfg.MeasurementColumn {
			continue
		}
		candidates = append(candidates, column)
	}
	if len(candidates) == 0 {
		return "", nil
	}

	if len(cfg.LineCategories) == 0 {
		column := candidates[0]
		var categories []string
		seen := map[string]struct{}{}
		for _, row := range rows {
			category := fmt.Sprint(row[column])
			if _, ok := seen[category]; ok {
				continue
			}
			seen[category] = struct{}{}
			categories = append(categories, category)
		}
		return column, categories
	}

	wanted := make(map[string]struct{}, len(cfg.LineCategories))
	for _, category := range cfg.LineCategories {
		wanted[category] = struct{}{}
	}
	for _, column := range candidates {
		for _, row := range rows {
			if _, ok := wanted[fmt.Sprint(row[column])]; ok {
				return column, cfg.LineCategories
			}
		}
	}
	return "", nil
}
