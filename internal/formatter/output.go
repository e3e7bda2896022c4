package formatter

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Output formats accepted by --output.
const (
	FormatJSON  = "json"
	FormatYAML  = "yaml"
	FormatTable = "table"
)

// Formats lists the accepted output formats.
var Formats = []string{FormatJSON, FormatYAML, FormatTable}

// ValidFormat reports whether f is an accepted output format.
func ValidFormat(f string) bool {
	for _, known := range Formats {
		if f == known {
			return true
		}
	}
	return false
}

// Tabler is implemented by summaries that have a table rendering.
type Tabler interface {
	WriteTable(w io.Writer) error
}

// Write renders v in format f. Values without a table rendering fall back to
// yaml in table mode.
func Write(w io.Writer, f string, v any) error {
	switch f {
	case FormatTable:
		if t, ok := v.(Tabler); ok {
			return t.WriteTable(w)
		}
		return writeYAML(w, v)
	case FormatYAML:
		return writeYAML(w, v)
	case FormatJSON, "":
		return WriteJSON(w, v)
	}
	return fmt.Errorf("unknown output format %q", f)
}

// WriteJSON writes v as indented JSON without HTML escaping.
func WriteJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false) // Don't escape < > & in content
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}
