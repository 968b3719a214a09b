// Package render formats engine output as plain text for terminals and logs.
package render

import (
	"database/sql"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"integrity-go/internal/model"
)

// Table renders headers and rows as a markdown table.
func Table(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.MarkdownBorder()).
		BorderTop(false).
		BorderBottom(false).
		Headers(headers...).
		Rows(rows...)
	return t.String()
}

// Time renders a ledger timestamp in UTC.
func Time(ts model.Timestamp) string {
	return ts.UTC().Format(time.DateTime)
}

// OptionalTime renders a nullable timestamp, or "-" when it is NULL.
func OptionalTime(ts sql.Null[model.Timestamp]) string {
	if !ts.Valid {
		return "-"
	}
	return Time(ts.V)
}

// Bool renders a flag as "yes" or "no".
func Bool(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
