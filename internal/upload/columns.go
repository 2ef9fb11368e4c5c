package upload

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/querylens/querylens/internal/schema"
)

var (
	invalidColumnChars = regexp.MustCompile(`[^a-z0-9_]`)
	integerPattern     = regexp.MustCompile(`^-?\d+$`)
	decimalPattern     = regexp.MustCompile(`^-?\d*\.?\d+$`)
	isoDatePattern     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dayFirstPattern    = regexp.MustCompile(`^\d{2}[/-]\d{2}[/-]\d{4}$`)
)

// SanitizeColumnName lower-cases name, replaces every character outside
// [a-z0-9_] with an underscore and prefixes a leading digit with one.
func SanitizeColumnName(name string) string {
	sanitized := invalidColumnChars.ReplaceAllString(strings.ToLower(name), "_")
	if sanitized != "" && sanitized[0] >= '0' && sanitized[0] <= '9' {
		sanitized = "_" + sanitized
	}
	return sanitized
}

// InferType picks the narrowest column type that fits every non-empty value.
func InferType(values []string) schema.ColumnType {
	nonEmpty := make([]string, 0, len(values))
	for _, value := range values {
		if value != "" {
			nonEmpty = append(nonEmpty, value)
		}
	}
	switch {
	case len(nonEmpty) == 0:
		return schema.ColumnTypeText
	case all(nonEmpty, isBooleanLiteral):
		return schema.ColumnTypeBoolean
	case all(nonEmpty, integerPattern.MatchString):
		return schema.ColumnTypeInteger
	case all(nonEmpty, decimalPattern.MatchString):
		return schema.ColumnTypeDecimal
	case all(nonEmpty, isDateLiteral):
		return schema.ColumnTypeDate
	default:
		return schema.ColumnTypeText
	}
}

// SQLType is the column definition used when creating an uploaded table.
func SQLType(columnType schema.ColumnType) string {
	switch columnType {
	case schema.ColumnTypeBoolean:
		return "BOOLEAN"
	case schema.ColumnTypeInteger:
		return "INTEGER"
	case schema.ColumnTypeDecimal:
		return "DECIMAL(10,2)"
	case schema.ColumnTypeDate:
		return "DATE"
	default:
		return "TEXT"
	}
}

// NormalizeDate converts DD/MM/YYYY or DD-MM-YYYY to YYYY-MM-DD. Other
// three-part dates are reordered the same way; anything else yields false.
func NormalizeDate(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	if isoDatePattern.MatchString(value) {
		return value, true
	}
	separator := "-"
	if strings.Contains(value, "/") {
		separator = "/"
	}
	parts := strings.Split(value, separator)
	if len(parts) != 3 {
		return "", false
	}
	return fmt.Sprintf("%s-%s-%s", parts[2], padTwo(parts[1]), padTwo(parts[0])), true
}

// convert turns a raw field into the driver value for columnType. Empty
// fields become NULL.
func convert(value string, columnType schema.ColumnType) (any, error) {
	if value == "" {
		return nil, nil
	}
	switch columnType {
	case schema.ColumnTypeBoolean:
		switch strings.ToLower(value) {
		case "true", "yes", "1":
			return true, nil
		default:
			return false, nil
		}
	case schema.ColumnTypeInteger:
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse integer %q: %w", value, err)
		}
		return parsed, nil
	case schema.ColumnTypeDecimal:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("parse decimal %q: %w", value, err)
		}
		return parsed, nil
	case schema.ColumnTypeDate:
		normalized, ok := NormalizeDate(value)
		if !ok {
			return nil, fmt.Errorf("parse date %q", value)
		}
		return normalized, nil
	default:
		return value, nil
	}
}

func isBooleanLiteral(value string) bool {
	switch strings.ToLower(value) {
	case "true", "false", "yes", "no", "0", "1":
		return true
	default:
		return false
	}
}

func isDateLiteral(value string) bool {
	return isoDatePattern.MatchString(value) || dayFirstPattern.MatchString(value)
}

func padTwo(part string) string {
	if len(part) == 1 {
		return "0" + part
	}
	return part
}

func all(values []string, predicate func(string) bool) bool {
	for _, value := range values {
		if !predicate(value) {
			return false
		}
	}
	return true
}
