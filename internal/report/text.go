package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Iron-Ham/gauntlet/internal/testunit"
	"github.com/Iron-Ham/gauntlet/internal/util"
)

// TextOptions configures the text summary.
type TextOptions struct {
	// Color is one of ColorAuto, ColorAlways, ColorNever.
	Color string

	// Slowest lists that many of the slowest units (0 = none).
	Slowest int

	// Verbose includes captured output of failed units.
	Verbose bool
}

// WriteText renders rep as a human readable summary.
func WriteText(w io.Writer, rep *Report, opts TextOptions) error {
	st := NewStyles(w, opts.Color)
	var b strings.Builder

	title := "gauntlet run"
	if rep.RunID != "" {
		title += " " + rep.RunID
	}
	b.WriteString(st.Title.Render(title) + "\n\n")

	nameWidth := max(st.Width-24, 20)
	for _, rec := range rep.Units {
		line := "  " + st.State(rec.State).Render(Icon(rec.State)) + " " + util.FitANSI(rec.Name, nameWidth)
		switch {
		case rec.State == testunit.StateSkipped:
			reason := rec.SkipReason
			if reason == "" {
				reason = "skipped"
			}
			line += " " + st.Muted.Render(reason)
		case rec.Attempts > 0:
			line += " " + st.Muted.Render(formatDuration(rec.Duration))
			if rec.Attempts > 1 {
				line += st.Warning.Render(fmt.Sprintf(" (%d attempts)", rec.Attempts))
			}
		}
		b.WriteString(strings.TrimRight(line, " ") + "\n")
	}

	failures := filter(rep.Units, func(r Record) bool {
		return r.State == testunit.StateFailed || r.State == testunit.StateTimedOut
	})
	if len(failures) > 0 {
		b.WriteString("\n" + st.Section.Render("Failures") + "\n")
		for _, rec := range failures {
			fmt.Fprintf(&b, "  %s %s\n", st.Error.Render(rec.Name), st.Muted.Render("["+rec.Category+"]"))
			writeIndented(&b, rec.Error, "    ")
			if opts.Verbose && rec.Output != "" {
				b.WriteString(st.Muted.Render("    output:") + "\n")
				writeIndented(&b, rec.Output, "      ")
			}
		}
	}

	warned := filter(rep.Units, func(r Record) bool { return len(r.Warnings) > 0 })
	if len(warned) > 0 || len(rep.HookFailures) > 0 {
		b.WriteString("\n" + st.Section.Render("Warnings") + "\n")
		for _, rec := range warned {
			for _, w := range rec.Warnings {
				fmt.Fprintf(&b, "  %s %s\n", st.Warning.Render(rec.Name+":"), w)
			}
		}
		for _, hf := range rep.HookFailures {
			fmt.Fprintf(&b, "  %s %s\n", st.Warning.Render(fmt.Sprintf("%s %s %s %s:", hf.Scope, hf.Key, hf.Phase, hf.Hook)), hf.Error)
		}
	}

	if len(rep.Flaky) > 0 {
		b.WriteString("\n" + st.Section.Render("Flaky") + "\n")
		for _, id := range rep.Flaky {
			fmt.Fprintf(&b, "  %s\n", st.Warning.Render(id))
		}
	}

	if slow := rep.Slowest(opts.Slowest); len(slow) > 0 {
		b.WriteString("\n" + st.Section.Render("Slowest") + "\n")
		for i, rec := range slow {
			fmt.Fprintf(&b, "  %d. %s %s\n", i+1, rec.Name, st.Muted.Render(formatDuration(rec.Duration)))
		}
	}

	b.WriteString("\n" + summaryLine(rep, st) + "\n")
	if rep.Err != "" {
		b.WriteString(st.Error.Render("run aborted: "+rep.Err) + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// summaryLine renders "3 passed, 1 failed, ... in 1.2s".
func summaryLine(rep *Report, st *Styles) string {
	labels := map[testunit.State]string{
		testunit.StatePassed:    "passed",
		testunit.StateFailed:    "failed",
		testunit.StateTimedOut:  "timed out",
		testunit.StateSkipped:   "skipped",
		testunit.StateCancelled: "cancelled",
	}
	parts := make([]string, 0, len(testunit.TerminalStates))
	for _, state := range testunit.TerminalStates {
		n := rep.Counts[state]
		part := fmt.Sprintf("%d %s", n, labels[state])
		if n > 0 {
			part = st.State(state).Render(part)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ") + " in " + formatDuration(rep.Duration)
}

func writeIndented(b *strings.Builder, text, indent string) {
	for line := range strings.SplitSeq(strings.TrimRight(text, "\n"), "\n") {
		b.WriteString(indent + line + "\n")
	}
}

func filter(records []Record, keep func(Record) bool) []Record {
	var out []Record
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// formatDuration renders d rounded to a readable precision.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}
