package util

import (
	"io"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func TestTruncateANSI(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxWidth int
		want     string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact width unchanged", "hello", 5, "hello"},
		{"long string truncated", "hello world", 8, "hello w…"},
		{"zero width empties", "hello", 0, ""},
		{"negative width empties", "hello", -2, ""},
		{"empty string unchanged", "", 4, ""},
		{"wide characters counted by columns", "日本語テスト", 5, "日本…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateANSI(tt.input, tt.maxWidth); got != tt.want {
				t.Errorf("TruncateANSI(%q, %d) = %q, want %q", tt.input, tt.maxWidth, got, tt.want)
			}
		})
	}
}

func TestTruncateANSI_Styled(t *testing.T) {
	r := lipgloss.NewRenderer(io.Discard)
	r.SetColorProfile(termenv.ANSI256)
	red := r.NewStyle().Foreground(lipgloss.Color("9"))

	short := red.Render("hi")
	if got := TruncateANSI(short, 10); got != short {
		t.Errorf("styled string modified: %q", got)
	}
	long := red.Render("pkg.Suite.VeryLongMethodName")
	got := TruncateANSI(long, 12)
	if w := lipgloss.Width(got); w > 12 {
		t.Errorf("width = %d, want <= 12 (%q)", w, got)
	}
}

func TestPadAndFit(t *testing.T) {
	tests := []struct {
		name  string
		fn    func(string, int) string
		input string
		width int
		want  string
	}{
		{"pad short", PadANSI, "ab", 4, "ab  "},
		{"pad wider unchanged", PadANSI, "abcdef", 4, "abcdef"},
		{"pad wide runes", PadANSI, "日本", 6, "日本  "},
		{"fit pads", FitANSI, "ab", 3, "ab "},
		{"fit truncates", FitANSI, "abcdef", 4, "abc…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.input, tt.width); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
