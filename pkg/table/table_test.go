package table

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bascanada/epidata/pkg/ty"
)

func TestFromRecordsEmpty(t *testing.T) {
	tbl := FromRecords(nil)
	assert.Equal(t, 0, tbl.Len())
	assert.Empty(t, tbl.Columns)

	tbl = FromRecords([]ty.MI{})
	assert.Equal(t, 0, tbl.Len())
	assert.Empty(t, tbl.Columns)
}

func TestFromRecordsInfersColumns(t *testing.T) {
	tbl := FromRecords([]ty.MI{
		{"hi": "hi"},
		{"two": "three"},
		{"hi": "again", "ts": int64(1428004316123)},
	})

	assert.Equal(t, []string{"hi", "two", "ts"}, tbl.Columns)
	assert.Equal(t, 3, tbl.Len())

	col, ok := tbl.Column("two")
	assert.True(t, ok)
	assert.Equal(t, []interface{}{nil, "three", nil}, col)

	_, ok = tbl.Column("missing")
	assert.False(t, ok)

	assert.Equal(t, "again", tbl.Value(2, "hi"))
	assert.Nil(t, tbl.Value(9, "hi"))

	records := tbl.Records()
	assert.Equal(t, ty.MI{"hi": "hi", "two": nil, "ts": nil}, records[0])
}

func TestFromRecordsWithColumns(t *testing.T) {
	keys := []string{"company", "site", "device_group", "tester"}

	empty := FromRecordsWithColumns(nil, keys)
	assert.Equal(t, keys, empty.Columns)
	assert.Equal(t, 0, empty.Len())

	tbl := FromRecordsWithColumns([]ty.MI{
		{"company": "Company-1", "site": "Site-1", "device_group": "1000", "tester": "Station-1", "extra": true},
	}, keys)
	assert.Equal(t, keys, tbl.Columns)
	assert.NotContains(t, tbl.Rows[0], "extra")
}

func TestSortBy(t *testing.T) {
	tbl := FromRecords([]ty.MI{
		{"site": "Site-2", "tester": "Station-1"},
		{"site": "Site-1", "tester": "Station-2"},
		{"site": "Site-1", "tester": "Station-1"},
	})
	tbl.SortBy("site", "tester")

	assert.Equal(t, "Station-1", tbl.Value(0, "tester"))
	assert.Equal(t, "Site-1", tbl.Value(1, "site"))
	assert.Equal(t, "Site-2", tbl.Value(2, "site"))
}
