// Package theme holds the lipgloss styles for command-line output.
package theme

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorBorder = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for command titles.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// SuccessStyle marks a check that passed.
var SuccessStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorGreen)

// WarningStyle marks something that works but needs attention.
var WarningStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorYellow)

// ErrorStyle marks a failed check.
var ErrorStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorRed)

// MutedStyle is for secondary detail and hints.
var MutedStyle = lipgloss.NewStyle().Foreground(ColorGray).Italic(true)

// LabelStyle is the left column of key/value output.
var LabelStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorBlue).Width(16)

// EnabledStyle returns a color-coded style for a mailbox state.
func EnabledStyle(enabled bool) lipgloss.Style {
	if enabled {
		return SuccessStyle
	}
	return MutedStyle
}

// Success renders a passed-check line.
func Success(msg string) string { return SuccessStyle.Render("✓ ") + msg }

// Failure renders a failed-check line.
func Failure(msg string) string { return ErrorStyle.Render("✗ ") + msg }

// KeyValue renders one aligned "label value" line.
func KeyValue(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, LabelStyle.Render(label), value)
}

// Table renders rows under a bold header with a rounded border.
func Table(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorBorder)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Foreground(ColorBlue).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		String()
}
