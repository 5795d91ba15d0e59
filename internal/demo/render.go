package demo

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/systemshift/graphcore/internal/graph"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	QueryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86"))

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	resultStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
)

// Render writes a titled, boxed result set to w.
func Render(w io.Writer, title, query string, rs *graph.ResultSet) {
	if title != "" {
		fmt.Fprintln(w, TitleStyle.Render(title))
	}
	if query != "" {
		fmt.Fprintln(w, QueryStyle.Render(query))
	}
	fmt.Fprintln(w, resultStyle.Render(FormatResult(rs)))
}

// RenderError writes err in the error style.
func RenderError(w io.Writer, err error) {
	fmt.Fprintln(w, ErrorStyle.Render(fmt.Sprintf("Error: %v", err)))
}

// FormatResult renders rs as plain text, one row per line.
func FormatResult(rs *graph.ResultSet) string {
	col := rs.Columns()[0]
	if count, ok := rs.Count(); ok {
		return fmt.Sprintf("%s = %d", col, count)
	}

	nodes := rs.Nodes()
	if len(nodes) == 0 {
		return DimStyle.Render("(no rows)")
	}
	lines := make([]string, 0, len(nodes)+1)
	lines = append(lines, fmt.Sprintf("%s (%d rows)", col, len(nodes)))
	for _, n := range nodes {
		lines = append(lines, fmt.Sprintf("  #%d %s", n.ID, formatProperties(n.Properties)))
	}
	return strings.Join(lines, "\n")
}

func formatProperties(props map[string]graph.Value) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if s, ok := props[k].(string); ok {
			parts = append(parts, fmt.Sprintf("%s=%q", k, s))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", k, props[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
