package memory

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bascanada/epidata/pkg/epidata/bridge"
	"github.com/bascanada/epidata/pkg/ty"
)

func ms(v int64) *int64 { return &v }

func dataset() []ty.MI {
	return []ty.MI{
		{"ts": json.Number("1000"), "company": "Company-1", "site": "Site-1", "device_group": "1000", "tester": "Station-1", "meas_name": "Temperature", "meas_value": json.Number("45.7"), "meas_status": "PASS"},
		{"ts": json.Number("2000"), "company": "Company-1", "site": "Site-1", "device_group": "1000", "tester": "Station-1", "meas_name": "Temperature", "meas_value": json.Number("49.1"), "meas_status": "FAIL"},
		{"ts": json.Number("3000"), "company": "Company-1", "site": "Site-2", "device_group": "1000", "tester": "Station-3", "meas_name": "Voltage", "meas_value": json.Number("200"), "meas_flag": "spike"},
		{"ts": json.Number("4000"), "company": "Company-2", "site": "Site-1", "device_group": "1000", "tester": "Station-1", "meas_name": "Voltage", "meas_value": json.Number("220")},
	}
}

func TestQueryFiltersFieldsAndRange(t *testing.T) {
	e := New(nil, dataset()...)

	records, err := e.Invoke(context.Background(), bridge.Invocation{
		Method:     bridge.MethodQuery,
		FieldQuery: map[string][]string{"company": {"Company-1"}, "site": {"Site-1", "Site-2"}},
		BeginTime:  ms(1000),
		EndTime:    ms(3000),
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, json.Number("1000"), records[0]["ts"])
	assert.Equal(t, json.Number("2000"), records[1]["ts"])
}

func TestQueryEmptyRangeHasNoRows(t *testing.T) {
	e := New(nil, dataset()...)

	records, err := e.Invoke(context.Background(), bridge.Invocation{
		Method:    bridge.MethodQuery,
		BeginTime: ms(2000),
		EndTime:   ms(2000),
	})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestQueryCleansedDropsFailedAndFlagged(t *testing.T) {
	e := New(nil, dataset()...)

	records, err := e.Invoke(context.Background(), bridge.Invocation{
		Method:    bridge.MethodQueryCleansed,
		BeginTime: ms(0),
		EndTime:   ms(10000),
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, json.Number("1000"), records[0]["ts"])
	assert.Equal(t, json.Number("4000"), records[1]["ts"])
}

func TestQuerySummaryGroupsByKeyFields(t *testing.T) {
	e := New(nil, dataset()...)

	records, err := e.Invoke(context.Background(), bridge.Invocation{
		Method:     bridge.MethodQuerySummary,
		FieldQuery: map[string][]string{"company": {"Company-1"}},
		BeginTime:  ms(0),
		EndTime:    ms(10000),
	})
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "Site-1", first["site"])
	assert.Equal(t, 2, first["meas_count"])
	assert.InDelta(t, 47.4, first["meas_mean"], 0.0001)
	assert.InDelta(t, 45.7, first["meas_min"], 0.0001)
	assert.InDelta(t, 49.1, first["meas_max"], 0.0001)

	assert.Equal(t, "Site-2", records[1]["site"])
	assert.Equal(t, 1, records[1]["meas_count"])
}

func TestListKeysReturnsDistinctCombinations(t *testing.T) {
	e := New(nil, dataset()...)

	records, err := e.Invoke(context.Background(), bridge.Invocation{Method: bridge.MethodListKeys})
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, r := range records {
		assert.Len(t, r, len(bridge.DefaultKeyFields))
	}
	assert.Equal(t, ty.MI{"company": "Company-1", "site": "Site-1", "device_group": "1000", "tester": "Station-1"}, records[0])
}

func TestInvokeErrors(t *testing.T) {
	e := New(nil, dataset()...)

	_, err := e.Invoke(context.Background(), bridge.Invocation{Method: "dropTable"})
	var remote *bridge.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "UNKNOWN_METHOD", remote.Code)

	_, err = e.Invoke(context.Background(), bridge.Invocation{Method: bridge.MethodQuery})
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "BAD_ARGUMENT", remote.Code)

	bad := New(nil, ty.MI{"company": "Company-1"})
	_, err = bad.Invoke(context.Background(), bridge.Invocation{Method: bridge.MethodQuery, BeginTime: ms(0), EndTime: ms(1)})
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "BAD_RECORD", remote.Code)
}

func TestTimestamp(t *testing.T) {
	cases := []struct {
		in      interface{}
		want    int64
		wantErr bool
	}{
		{json.Number("1428004316123"), 1428004316123, false},
		{json.Number("1428004316123.9"), 1428004316123, false},
		{float64(12.7), 12, false},
		{int64(5), 5, false},
		{"77", 77, false},
		{"1970-01-01T00:00:01.5009Z", 1500, false},
		{"yesterday", 0, true},
		{nil, 0, true},
		{true, 0, true},
	}
	for _, c := range cases {
		got, err := Timestamp(c.in)
		if c.wantErr {
			assert.Error(t, err, "%v", c.in)
			continue
		}
		require.NoError(t, err, "%v", c.in)
		assert.Equal(t, c.want, got, "%v", c.in)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	arr := filepath.Join(dir, "array.json")
	require.NoError(t, os.WriteFile(arr, []byte(`[{"ts": 1, "company": "c"}]`), 0o644))
	e, err := Load(arr, []string{"company"})
	require.NoError(t, err)
	assert.Equal(t, []string{"company"}, e.KeyFields())

	records, err := e.Invoke(context.Background(), bridge.Invocation{Method: bridge.MethodQuery, BeginTime: ms(0), EndTime: ms(2)})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, json.Number("1"), records[0]["ts"])

	obj := filepath.Join(dir, "object.json")
	require.NoError(t, os.WriteFile(obj, []byte(`{"records": [{"ts": 1}, {"ts": 2}]}`), 0o644))
	e, err = Load(obj, nil)
	require.NoError(t, err)
	assert.Equal(t, bridge.DefaultKeyFields, e.KeyFields())

	_, err = Load(filepath.Join(dir, "missing.json"), nil)
	assert.Error(t, err)
}
