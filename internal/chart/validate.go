package chart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/querylens/querylens/internal/completion"
)

// modelConfig is the raw object requested from the model. Pointers separate
// missing fields from zero values.
type modelConfig struct {
	Type              string   `json:"type"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Takeaway          string   `json:"takeaway"`
	XKey              string   `json:"xKey"`
	YKeys             []string `json:"yKeys"`
	Legend            *bool    `json:"legend"`
	MultipleLines     *bool    `json:"multipleLines"`
	MeasurementColumn *string  `json:"measurementColumn"`
	LineCategories    []string `json:"lineCategories"`
}

func parseModelConfig(text string) (Config, error) {
	var raw modelConfig
	if err := completion.DecodeJSON(text, &raw); err != nil {
		return Config{}, err
	}
	if raw.Legend == nil {
		return Config{}, errors.New("legend is required")
	}
	chartType, err := ParseType(raw.Type)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Type:           chartType,
		Title:          raw.Title,
		Description:    raw.Description,
		Takeaway:       raw.Takeaway,
		XKey:           raw.XKey,
		YKeys:          raw.YKeys,
		Legend:         *raw.Legend,
		LineCategories: raw.LineCategories,
	}
	if raw.MultipleLines != nil {
		cfg.MultipleLines = *raw.MultipleLines
	}
	if raw.MeasurementColumn != nil {
		cfg.MeasurementColumn = *raw.MeasurementColumn
	}
	return Validate(cfg)
}

// Validate checks cfg and returns a repaired copy: keys are trimmed, duplicate
// y keys and line categories are dropped, and a measurement column that is not
// one of the y keys is cleared. Colors are recomputed.
func Validate(cfg Config) (Config, error) {
	if !cfg.Type.IsValid() {
		return Config{}, fmt.Errorf("invalid chart type %d", cfg.Type)
	}
	cfg.Title = strings.TrimSpace(cfg.Title)
	cfg.Description = strings.TrimSpace(cfg.Description)
	cfg.Takeaway = strings.TrimSpace(cfg.Takeaway)
	cfg.XKey = strings.TrimSpace(cfg.XKey)
	if cfg.XKey == "" {
		return Config{}, errors.New("xKey is required")
	}
	cfg.YKeys = cleanKeys(cfg.YKeys)
	if len(cfg.YKeys) == 0 {
		return Config{}, errors.New("at least one yKey is required")
	}

	cfg.MeasurementColumn = strings.TrimSpace(cfg.MeasurementColumn)
	if cfg.MeasurementColumn != "" && !contains(cfg.YKeys, cfg.MeasurementColumn) {
		cfg.MeasurementColumn = ""
	}
	cfg.LineCategories = cleanKeys(cfg.LineCategories)
	if len(cfg.LineCategories) == 0 {
		cfg.LineCategories = nil
	}

	cfg.Colors = AssignColors(cfg.YKeys)
	return cfg, nil
}

func cleanKeys(keys []string) []string {
	cleaned := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, key)
	}
	return cleaned
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
