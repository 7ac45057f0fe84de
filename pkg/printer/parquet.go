package printer

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/segmentio/parquet-go"

	"github.com/bascanada/epidata/pkg/table"
)

type columnKind int

const (
	kindString columnKind = iota
	kindInt64
	kindDouble
)

// WriteParquet writes t as a single Parquet file. Every column is optional;
// a column whose values are all integral becomes INT64, all numeric becomes
// DOUBLE, anything else is written as its text form.
func WriteParquet(w io.Writer, t *table.Table) error {
	// group fields are laid out by name, so leaf indexes follow sorted order
	columns := append([]string{}, t.Columns...)
	sort.Strings(columns)

	kinds := make([]columnKind, len(columns))
	group := parquet.Group{}
	for i, c := range columns {
		kinds[i] = inferKind(t, c)
		switch kinds[i] {
		case kindInt64:
			group[c] = parquet.Optional(parquet.Int(64))
		case kindDouble:
			group[c] = parquet.Optional(parquet.Leaf(parquet.DoubleType))
		default:
			group[c] = parquet.Optional(parquet.String())
		}
	}

	writer := parquet.NewWriter(w, parquet.NewSchema("epidata", group))

	rows := make([]parquet.Row, 0, len(t.Rows))
	for _, record := range t.Rows {
		row := make(parquet.Row, len(columns))
		for i, c := range columns {
			v, err := parquetValue(record[c], kinds[i])
			if err != nil {
				return fmt.Errorf("column %q: %w", c, err)
			}
			if v.IsNull() {
				row[i] = v.Level(0, 0, i)
			} else {
				row[i] = v.Level(0, 1, i)
			}
		}
		rows = append(rows, row)
	}

	if len(rows) > 0 {
		if _, err := writer.WriteRows(rows); err != nil {
			return fmt.Errorf("failed to write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

func inferKind(t *table.Table, column string) columnKind {
	kind := kindInt64
	seen := false
	for _, row := range t.Rows {
		v := row[column]
		if v == nil {
			continue
		}
		seen = true
		if _, ok := asInt64(v); ok {
			continue
		}
		if _, ok := asFloat64(v); ok {
			kind = kindDouble
			continue
		}
		return kindString
	}
	if !seen {
		return kindString
	}
	return kind
}

func parquetValue(v interface{}, kind columnKind) (parquet.Value, error) {
	if v == nil {
		return parquet.NullValue(), nil
	}
	switch kind {
	case kindInt64:
		n, ok := asInt64(v)
		if !ok {
			return parquet.Value{}, fmt.Errorf("value %v is not an integer", v)
		}
		return parquet.Int64Value(n), nil
	case kindDouble:
		f, ok := asFloat64(v)
		if !ok {
			return parquet.Value{}, fmt.Errorf("value %v is not a number", v)
		}
		return parquet.DoubleValue(f), nil
	}
	return parquet.ByteArrayValue([]byte(formatValue(v))), nil
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := strconv.ParseInt(n.String(), 10, 64)
		return i, err == nil
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n), true
		}
	}
	return 0, false
}

func asFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
