package nl2sql

import (
	"fmt"

	"github.com/querylens/querylens/internal/schema"
)

// TablePlaceholder stands in for the real table name of an uploaded dataset.
// It is replaced after generation and cannot occur in ordinary SQL.
const TablePlaceholder = "__QUERYLENS_TABLE__"

const promptRules = `Only retrieval (SELECT) queries are allowed.

For text fields%s, use ILIKE:
LOWER(field_name) ILIKE LOWER('%%search_term%%')

When the user asks about something 'over time', return data grouped by year if appropriate.

EVERY QUERY SHOULD RETURN QUANTITATIVE DATA THAT CAN BE PLOTTED ON A CHART!
If the user asks for a single column, return that column and a count or numeric measure.
If the user asks for a rate or percentage, return it as a decimal (e.g., 0.1 = 10%%).`

func buildSystemPrompt(descriptor *schema.Descriptor) string {
	if descriptor == nil {
		return fmt.Sprintf(`You are a SQL (postgres) and data visualization expert. Your job is to help the user write a SQL query to retrieve the data they need.
The table schema is as follows:

%s

`+promptRules, schema.PlacementsDDL, " like name, company_placed, department, role, and location")
	}
	return fmt.Sprintf(`You are a SQL (postgres) and data visualization expert. Your job is to help the user write a SQL query to retrieve the data they need.
The table schema is as follows:

%s

Always refer to the table by the exact name %s. Do not quote it or replace it with another name.

`+promptRules, descriptor.Text(TablePlaceholder), TablePlaceholder, "")
}

func buildUserPrompt(question string) string {
	return "Generate the query necessary to retrieve the data the user wants: " + question
}
