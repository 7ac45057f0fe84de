// Package printer renders result tables as text, CSV, JSON lines or Parquet.
package printer

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/bascanada/epidata/pkg/table"
)

// Format is an output format.
type Format string

const (
	FormatText    Format = "text"
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatParquet Format = "parquet"
)

// Formats lists the supported formats.
var Formats = []Format{FormatText, FormatCSV, FormatJSON, FormatParquet}

// ParseFormat accepts a format name, case-insensitively. Empty is text.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return FormatText, nil
	}
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q (expected text, csv, json or parquet)", s)
}

type Options struct {
	Format Format
	// Color forces colors on or off; nil detects the terminal.
	Color *bool
}

// Print writes t to w.
func Print(w io.Writer, t *table.Table, opts Options) error {
	InitColorState(opts.Color, w)

	switch opts.Format {
	case FormatText, "":
		return WriteText(w, t)
	case FormatCSV:
		return WriteCSV(w, t)
	case FormatJSON:
		return WriteJSON(w, t)
	case FormatParquet:
		return WriteParquet(w, t)
	}
	return fmt.Errorf("unknown output format %q", opts.Format)
}

// formatValue renders a cell for text and CSV output.
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case float32, float64:
		return fmt.Sprintf("%g", val)
	case bool:
		return fmt.Sprintf("%t", val)
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}
