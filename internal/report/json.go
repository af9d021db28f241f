package report

import (
	"encoding/json"
	"io"
)

// WriteJSON renders rep as an indented JSON document.
func WriteJSON(w io.Writer, rep *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
