package report

import (
	"fmt"
	"io"
)

// Output formats accepted by Write.
const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatJUnit = "junit"
)

// Write renders rep in format. Text options are ignored by the other formats.
func Write(w io.Writer, rep *Report, format string, opts TextOptions) error {
	switch format {
	case FormatText, "":
		return WriteText(w, rep, opts)
	case FormatJSON:
		return WriteJSON(w, rep)
	case FormatJUnit:
		return WriteJUnit(w, rep)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}
