package printer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/bascanada/epidata/pkg/table"
)

// WriteCSV writes a header row then one record per row, in column order.
func WriteCSV(w io.Writer, t *table.Table) error {
	csvWriter := csv.NewWriter(w)

	if len(t.Columns) > 0 {
		if err := csvWriter.Write(t.Columns); err != nil {
			return err
		}
	}

	for _, row := range t.Rows {
		record := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			record[i] = csvValue(row[c])
		}
		if err := csvWriter.Write(record); err != nil {
			return err
		}
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV writer: %w", err)
	}
	return nil
}

// csvValue guards text cells against formula injection in spreadsheets.
func csvValue(v interface{}) string {
	s := formatValue(v)
	if str, ok := v.(string); ok && len(str) > 0 {
		switch str[0] {
		case '=', '+', '-', '@', '\t', '\r', '\n', '|':
			return "'" + strings.ReplaceAll(s, "'", "''")
		}
	}
	return s
}
