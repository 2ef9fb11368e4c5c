package chart

import (
	"fmt"
	"strings"

	"hermannm.dev/enumnames"
)

type Type uint8

const (
	TypeBar Type = iota + 1
	TypeLine
	TypeArea
	TypePie
	TypeScatter
)

var typeNames = enumnames.NewMap(map[Type]string{
	TypeBar:     "bar",
	TypeLine:    "line",
	TypeArea:    "area",
	TypePie:     "pie",
	TypeScatter: "scatter",
})

func (chartType Type) IsValid() bool {
	return typeNames.ContainsEnumValue(chartType)
}

func (chartType Type) String() string {
	return typeNames.GetNameOrFallback(chartType, "invalid")
}

func (chartType Type) MarshalJSON() ([]byte, error) {
	return typeNames.MarshalToNameJSON(chartType)
}

func (chartType *Type) UnmarshalJSON(bytes []byte) error {
	return typeNames.UnmarshalFromNameJSON(bytes, chartType)
}

// ParseType accepts a chart type name, ignoring case and surrounding space.
func ParseType(name string) (Type, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for _, candidate := range []Type{TypeBar, TypeLine, TypeArea, TypePie, TypeScatter} {
		if candidate.String() == normalized {
			return candidate, nil
		}
	}
	return 0, fmt.Errorf("unsupported chart type %q", name)
}

// Config is a validated chart specification. Colors is always derived from
// YKeys by AssignColors.
type Config struct {
	Type              Type              `json:"type"`
	Title             string            `json:"title"`
	Description       string            `json:"description"`
	Takeaway          string            `json:"takeaway"`
	XKey              string            `json:"xKey"`
	YKeys             []string          `json:"yKeys"`
	Legend            bool              `json:"legend"`
	MultipleLines     bool              `json:"multipleLines,omitempty"`
	MeasurementColumn string            `json:"measurementColumn,omitempty"`
	LineCategories    []string          `json:"lineCategories,omitempty"`
	Colors            map[string]string `json:"colors"`
}

// UsesPivot reports whether rows should be reshaped into one column per line
// category before rendering.
func (c Config) UsesPivot() bool {
	if c.Type != TypeLine || !c.MultipleLines || c.MeasurementColumn == "" {
		return false
	}
	for _, key := range c.YKeys {
		if key == c.MeasurementColumn {
			return true
		}
	}
	return false
}

// Palette holds the chart color tokens, assigned to y keys by index.
var Palette = [...]string{
	"hsl(var(--chart-1))",
	"hsl(var(--chart-2))",
	"hsl(var(--chart-3))",
	"hsl(var(--chart-4))",
	"hsl(var(--chart-5))",
	"hsl(var(--chart-6))",
	"hsl(var(--chart-7))",
	"hsl(var(--chart-8))",
}

func AssignColors(yKeys []string) map[string]string {
	colors := make(map[string]string, len(yKeys))
	for i, key := range yKeys {
		colors[key] = Palette[i%len(Palette)]
	}
	return colors
}
