package printer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bascanada/epidata/pkg/table"
	"github.com/bascanada/epidata/pkg/ty"
)

func sample() *table.Table {
	return table.FromRecords([]ty.MI{
		{"ts": json.Number("1428004316123"), "site": "Site-1", "meas_value": json.Number("45.7")},
		{"ts": json.Number("1428004317000"), "site": "=cmd|' /C calc'!A0", "meas_value": json.Number("49")},
		{"ts": json.Number("1428004318000"), "site": "Site-2"},
	})
}

func noColor() *bool {
	b := false
	return &b
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "CSV": FormatCSV, " json ": FormatJSON, "parquet": FormatParquet} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestInitColorState(t *testing.T) {
	on := true
	InitColorState(&on, io.Discard)
	assert.True(t, IsColorEnabled())

	InitColorState(nil, &bytes.Buffer{})
	assert.False(t, IsColorEnabled())

	t.Setenv("NO_COLOR", "1")
	InitColorState(nil, io.Discard)
	assert.False(t, IsColorEnabled())
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, sample(), Options{Format: FormatText, Color: noColor()}))

	out := buf.String()
	for _, s := range []string{"meas_value", "site", "ts", "Site-1", "1428004316123", "45.7", "(3 rows)"} {
		assert.Contains(t, out, s)
	}
}

func TestWriteTextEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, table.FromRecords(nil), Options{Color: noColor()}))
	assert.Equal(t, "(0 rows)\n", buf.String())
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, sample(), Options{Format: FormatCSV}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, []string{"meas_value", "site", "ts"}, records[0])
	assert.Equal(t, []string{"45.7", "Site-1", "1428004316123"}, records[1])
	assert.Equal(t, "'=cmd|'' /C calc''!A0", records[2][1])
	assert.Equal(t, []string{"", "Site-2", "1428004318000"}, records[3])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, sample(), Options{Format: FormatJSON, Color: noColor()}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "Site-1", first["site"])
	assert.Equal(t, 45.7, first["meas_value"])
}

func TestWriteJSONColored(t *testing.T) {
	on := true
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, sample(), Options{Format: FormatJSON, Color: &on}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, buf.String(), "Site-2")
}

func TestWriteParquet(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, sample(), Options{Format: FormatParquet}))

	data := buf.Bytes()
	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.EqualValues(t, 3, f.NumRows())

	names := []string{}
	for _, field := range f.Schema().Fields() {
		names = append(names, field.Name())
	}
	assert.ElementsMatch(t, []string{"meas_value", "site", "ts"}, names)

	reader := parquet.NewReader(f)
	defer reader.Close()

	row := map[string]interface{}{}
	require.NoError(t, reader.Read(&row))
	assert.Equal(t, "Site-1", row["site"])
	assert.EqualValues(t, 1428004316123, row["ts"])
	assert.EqualValues(t, 45.7, row["meas_value"])
}

func TestInferKind(t *testing.T) {
	tbl := table.FromRecords([]ty.MI{
		{"i": json.Number("1"), "f": json.Number("1"), "s": "x", "n": nil},
		{"i": 2, "f": 2.5, "s": json.Number("3")},
	})
	assert.Equal(t, kindInt64, inferKind(tbl, "i"))
	assert.Equal(t, kindDouble, inferKind(tbl, "f"))
	assert.Equal(t, kindString, inferKind(tbl, "s"))
	assert.Equal(t, kindString, inferKind(tbl, "n"))
}

func TestPrintUnknownFormat(t *testing.T) {
	err := Print(io.Discard, sample(), Options{Format: "xml"})
	assert.ErrorContains(t, err, "xml")
}
