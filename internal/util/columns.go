// Package util provides terminal text helpers shared by the reporters.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Ellipsis marks truncated text.
const Ellipsis = "…"

// TruncateANSI truncates s to maxWidth visual columns, ending it with
// Ellipsis when anything was cut. Escape sequences and wide characters are
// measured the way the terminal renders them.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, Ellipsis)
}

// PadANSI right-pads s with spaces to width visual columns. Wider strings
// are returned unchanged.
func PadANSI(s string, width int) string {
	if gap := width - lipgloss.Width(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}

// FitANSI truncates or pads s to exactly width visual columns.
func FitANSI(s string, width int) string {
	return PadANSI(TruncateANSI(s, width), width)
}
