package printer

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"

	"github.com/bascanada/epidata/pkg/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// WriteText renders t as a bordered table followed by a row count.
func WriteText(w io.Writer, t *table.Table) error {
	if len(t.Columns) == 0 {
		_, err := fmt.Fprintf(w, "(%d rows)\n", t.Len())
		return err
	}

	rows := make([][]string, 0, t.Len())
	for _, row := range t.Rows {
		cells := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cells[i] = formatValue(row[c])
		}
		rows = append(rows, cells)
	}

	tbl := ltable.New().
		Border(lipgloss.NormalBorder()).
		Headers(t.Columns...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == ltable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	if IsColorEnabled() {
		tbl = tbl.BorderStyle(borderStyle)
	}

	_, err := fmt.Fprintf(w, "%s\n(%d rows)\n", tbl.String(), t.Len())
	return err
}
