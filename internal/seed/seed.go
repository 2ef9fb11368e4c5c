package seed

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/querylens/querylens/internal/upload"
)

const insertPlacement = `INSERT INTO placements (
	name, dob, cpi, tenth_percentage, twelfth_percentage, company_placed,
	package_lpa, department, role, location, internship_done, rounds_cleared
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

var leadingNumber = regexp.MustCompile(`^[-+]?(\d+\.?\d*|\.\d+)`)

var headers = []string{
	"Name", "DOB", "CPI", "10th Percentage", "12th Percentage", "Company Placed",
	"Package (LPA)", "Department", "Role", "Location", "Internship Done", "Rounds Cleared",
}

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Stats struct {
	Inserted int
	Skipped  int
}

// Placements loads a placements CSV into the placements table. Rows that
// cannot be converted or inserted are logged and skipped.
func Placements(ctx context.Context, db Execer, input io.Reader, logger *slog.Logger) (Stats, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	reader := csv.NewReader(input)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return Stats{}, fmt.Errorf("read header: %w", err)
	}
	index, err := headerIndex(header)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.WarnContext(ctx, "skipping unreadable placement row", "line", line, "error", err)
			stats.Skipped++
			continue
		}
		field := func(name string) string {
			if i := index[name]; i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}

		args := placementArgs(field)
		if _, err := db.ExecContext(ctx, insertPlacement, args...); err != nil {
			logger.WarnContext(ctx, "failed to insert placement", "line", line, "name", field("Name"), "error", err)
			stats.Skipped++
			continue
		}
		stats.Inserted++
	}
	logger.InfoContext(ctx, "seeded placements", "inserted", stats.Inserted, "skipped", stats.Skipped)
	return stats, nil
}

func headerIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")] = i
	}
	var missing []string
	for _, name := range headers {
		if _, ok := index[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("placements csv is missing columns: %s", strings.Join(missing, ", "))
	}
	return index, nil
}

func placementArgs(field func(string) string) []any {
	var dob any
	if normalized, ok := upload.NormalizeDate(field("DOB")); ok {
		dob = normalized
	}
	return []any{
		field("Name"),
		dob,
		number(field("CPI")),
		number(field("10th Percentage")),
		number(field("12th Percentage")),
		field("Company Placed"),
		packageLPA(field("Package (LPA)")),
		field("Department"),
		field("Role"),
		field("Location"),
		field("Internship Done") == "Yes",
		integer(field("Rounds Cleared")),
	}
}

// packageLPA drops one currency sign and one thousands separator before
// parsing. Unparseable values are 0.
func packageLPA(raw string) float64 {
	cleaned := strings.Replace(strings.Replace(raw, "$", "", 1), ",", "", 1)
	return number(cleaned)
}

// number parses the leading decimal of raw, so "12.5 LPA" is 12.5. Values
// without one are 0.
func number(raw string) float64 {
	match := leadingNumber.FindString(strings.TrimSpace(raw))
	if match == "" {
		return 0
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return value
}

func integer(raw string) int64 {
	return int64(number(raw))
}
