// Package table holds the local in-memory form of an engine result: an
// ordered sequence of records with columns inferred from their keys.
package table

import (
	"fmt"
	"sort"

	"github.com/bascanada/epidata/pkg/ty"
)

// Table is an ordered list of rows sharing a column list. A row may lack a
// column, in which case its value is nil.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []ty.MI  `json:"rows"`
}

// FromRecords builds a table whose columns are the union of the record keys,
// in order of first appearance. Keys within one record are taken in sorted
// order since maps carry none.
func FromRecords(records []ty.MI) *Table {
	t := &Table{Columns: []string{}, Rows: make([]ty.MI, 0, len(records))}
	seen := map[string]struct{}{}
	for _, record := range records {
		keys := make([]string, 0, len(record))
		for k := range record {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				t.Columns = append(t.Columns, k)
			}
		}
		t.Rows = append(t.Rows, record)
	}
	return t
}

// FromRecordsWithColumns projects the records onto a fixed column list;
// keys outside columns are dropped.
func FromRecordsWithColumns(records []ty.MI, columns []string) *Table {
	t := &Table{Columns: append([]string{}, columns...), Rows: make([]ty.MI, 0, len(records))}
	for _, record := range records {
		row := make(ty.MI, len(columns))
		for _, c := range columns {
			if v, ok := record[c]; ok {
				row[c] = v
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// HasColumn reports whether name is one of the columns.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Column returns the values of one column, nil where a row lacks it.
func (t *Table) Column(name string) ([]interface{}, bool) {
	if !t.HasColumn(name) {
		return nil, false
	}
	values := make([]interface{}, len(t.Rows))
	for i, row := range t.Rows {
		values[i] = row[name]
	}
	return values, true
}

// Value returns the cell at row i, column name.
func (t *Table) Value(i int, name string) interface{} {
	if i < 0 || i >= len(t.Rows) {
		return nil
	}
	return t.Rows[i][name]
}

// Records returns the rows with every column present, missing cells as nil.
func (t *Table) Records() []ty.MI {
	out := make([]ty.MI, len(t.Rows))
	for i, row := range t.Rows {
		full := make(ty.MI, len(t.Columns))
		for _, c := range t.Columns {
			full[c] = row[c]
		}
		out[i] = full
	}
	return out
}

// SortBy orders the rows by the given columns, compared by their text form.
// The sort is stable.
func (t *Table) SortBy(columns ...string) {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		for _, c := range columns {
			a, b := cellString(t.Rows[i][c]), cellString(t.Rows[j][c])
			if a != b {
				return a < b
			}
		}
		return false
	})
}

func cellString(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
