package report

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/Iron-Ham/gauntlet/internal/testunit"
)

var (
	// Colors - all meet WCAG AA contrast (4.5:1) on dark terminals
	PrimaryColor = lipgloss.Color("#A78BFA") // Purple
	PassColor    = lipgloss.Color("#10B981") // Green
	WarningColor = lipgloss.Color("#F59E0B") // Amber
	ErrorColor   = lipgloss.Color("#F87171") // Red
	MutedColor   = lipgloss.Color("#9CA3AF") // Gray
	TimeoutColor = lipgloss.Color("#FB923C") // Orange
	CancelColor  = lipgloss.Color("#60A5FA") // Blue
)

// Color modes accepted by NewStyles.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// defaultWidth is used when the output is not a terminal.
const defaultWidth = 100

// Styles is the palette of the text report, bound to one output.
type Styles struct {
	Title   lipgloss.Style
	Section lipgloss.Style
	Muted   lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style

	states map[testunit.State]lipgloss.Style

	// Width is the column budget for unit lines.
	Width int
}

// NewStyles builds the palette for w. In auto mode colors are used only when
// w is a terminal.
func NewStyles(w io.Writer, mode string) *Styles {
	r := lipgloss.NewRenderer(w)
	width := defaultWidth
	tty := false
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		tty = true
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 {
			width = cols
		}
	}
	switch mode {
	case ColorAlways:
		r.SetColorProfile(termenv.ANSI256)
	case ColorNever:
		r.SetColorProfile(termenv.Ascii)
	default:
		if !tty {
			r.SetColorProfile(termenv.Ascii)
		}
	}

	state := func(c lipgloss.TerminalColor) lipgloss.Style {
		return r.NewStyle().Foreground(c)
	}
	return &Styles{
		Title:   r.NewStyle().Bold(true).Foreground(PrimaryColor),
		Section: r.NewStyle().Bold(true).Underline(true),
		Muted:   r.NewStyle().Foreground(MutedColor),
		Warning: r.NewStyle().Foreground(WarningColor),
		Error:   r.NewStyle().Foreground(ErrorColor),
		states: map[testunit.State]lipgloss.Style{
			testunit.StatePassed:    state(PassColor),
			testunit.StateFailed:    state(ErrorColor).Bold(true),
			testunit.StateTimedOut:  state(TimeoutColor).Bold(true),
			testunit.StateSkipped:   state(MutedColor),
			testunit.StateCancelled: state(CancelColor),
		},
		Width: width,
	}
}

// State returns the style for a terminal state.
func (s *Styles) State(st testunit.State) lipgloss.Style {
	if style, ok := s.states[st]; ok {
		return style
	}
	return s.Muted
}

// Icon returns the status glyph for a state.
func Icon(st testunit.State) string {
	switch st {
	case testunit.StatePassed:
		return "✓"
	case testunit.StateFailed:
		return "✗"
	case testunit.StateTimedOut:
		return "⏱"
	case testunit.StateSkipped:
		return "○"
	case testunit.StateCancelled:
		return "⊘"
	default:
		return "?"
	}
}
