// Package ui provides styling and table output for seqctl.
package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/rodaine/table"
)

var (
	// HeaderStyle is the style for table headers
	HeaderStyle = lipgloss.NewStyle().Bold(true).Underline(true)

	// IDStyle highlights issued identifiers
	IDStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00AAFF"))

	// DimStyle is the style for secondary text
	DimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	// ErrorStyle is the style for error messages
	ErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
)

// NewTable creates a table writing to w with consistent styling.
func NewTable(w io.Writer, headers ...any) table.Table {
	tbl := table.New(headers...).WithWriter(w)
	tbl.WithHeaderFormatter(func(format string, vals ...any) string {
		return HeaderStyle.Render(fmt.Sprintf(format, vals...))
	})
	tbl.WithPadding(2)
	tbl.WithWidthFunc(lipgloss.Width)
	return tbl
}
