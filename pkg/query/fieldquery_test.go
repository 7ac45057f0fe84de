package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/bascanada/epidata/pkg/ty"
)

func TestFromAny(t *testing.T) {
	tests := []struct {
		name    string
		input   map[string]interface{}
		want    FieldQuery
		wantErr error
	}{
		{
			name:  "equality",
			input: map[string]interface{}{"company": "Company-1"},
			want:  FieldQuery{"company": Eq("Company-1")},
		},
		{
			name:  "string set",
			input: map[string]interface{}{"site": []string{"Site-1", "Site-2"}},
			want:  FieldQuery{"site": In("Site-1", "Site-2")},
		},
		{
			name:  "decoded json list",
			input: map[string]interface{}{"tester": []interface{}{"Station-1"}},
			want:  FieldQuery{"tester": In("Station-1")},
		},
		{
			name:  "bool set",
			input: map[string]interface{}{"test_name": map[string]bool{"Test-2": true, "Test-1": true, "Test-3": false}},
			want:  FieldQuery{"test_name": In("Test-1", "Test-2")},
		},
		{
			name:  "empty struct set",
			input: map[string]interface{}{"site": map[string]struct{}{"Site-1": {}}},
			want:  FieldQuery{"site": In("Site-1")},
		},
		{
			name:    "integer is rejected",
			input:   map[string]interface{}{"device_group": 1000},
			wantErr: ErrUnsupportedValue,
		},
		{
			name:    "mixed list is rejected",
			input:   map[string]interface{}{"site": []interface{}{"Site-1", 2.0}},
			wantErr: ErrUnsupportedValue,
		},
		{
			name:    "nested map is rejected",
			input:   map[string]interface{}{"site": map[string]interface{}{"a": "b"}},
			wantErr: ErrUnsupportedValue,
		},
		{
			name:    "empty key",
			input:   map[string]interface{}{"": "x"},
			wantErr: ErrInvalidField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAny(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromAnyErrorIsDescriptive(t *testing.T) {
	_, err := FromAny(map[string]interface{}{"device_group": 1000})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "device_group"`)
	assert.Contains(t, err.Error(), "int")
}

func TestEncodeRoundTripsKeys(t *testing.T) {
	queries := []map[string]interface{}{
		{},
		{"company": "Company-1"},
		{"company": "Company-1", "site": "Site-1", "device_group": "1000", "tester": "Station-1", "test_name": "Test-1"},
		{"site": []string{"Site-1", "Site-2"}, "tester": []interface{}{"Station-1", "Station-2", "Station-3"}},
		{"key with spaces": "", "ünïcode": []string{}},
	}

	for _, raw := range queries {
		fq, err := FromAny(raw)
		require.NoError(t, err)

		encoded, err := fq.Encode()
		require.NoError(t, err)

		assert.Equal(t, sortedKeys(raw), sortedKeys(encoded))
		decoded := Decode(encoded)
		for field, value := range fq {
			assert.Equal(t, value.Values, encoded[field])
			assert.Equal(t, value.Values, decoded[field].Values)
		}
	}
}

func TestEncodeSingleTokenBecomesList(t *testing.T) {
	encoded, err := FieldQuery{"company": Eq("Company-1")}.Encode()
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"company": {"Company-1"}}, encoded)
}

func TestParseFlags(t *testing.T) {
	fq, err := ParseFlags([]string{"company=Company-1", "site=Site-1,Site-2", "tester=Station-1", "tester=Station-2", "test_name=Test-1,"})
	require.NoError(t, err)
	assert.Equal(t, FieldQuery{
		"company":   Eq("Company-1"),
		"site":      In("Site-1", "Site-2"),
		"tester":    In("Station-1", "Station-2"),
		"test_name": In("Test-1"),
	}, fq)

	_, err = ParseFlags([]string{"=x"})
	assert.ErrorIs(t, err, ErrInvalidField)
	_, err = ParseFlags([]string{"company"})
	assert.ErrorIs(t, err, ErrInvalidField)
	_, err = ParseFlags([]string{"company="})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestFromMS(t *testing.T) {
	fq, err := FromMS(ty.MS{"company": "Company-1", "site": "Site-1, Site-2"})
	require.NoError(t, err)
	assert.Equal(t, FieldQuery{"company": Eq("Company-1"), "site": In("Site-1", "Site-2")}, fq)
}

func TestValueDecoding(t *testing.T) {
	var fromJSON FieldQuery
	require.NoError(t, json.Unmarshal([]byte(`{"company":"Company-1","site":["Site-1","Site-2"]}`), &fromJSON))
	assert.Equal(t, FieldQuery{"company": Eq("Company-1"), "site": In("Site-1", "Site-2")}, fromJSON)

	var fromYAML FieldQuery
	require.NoError(t, yaml.Unmarshal([]byte("company: Company-1\nsite: [Site-1, Site-2]\n"), &fromYAML))
	assert.Equal(t, fromJSON, fromYAML)

	var bad FieldQuery
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"device_group":1000}`), &bad), ErrUnsupportedValue)
	assert.ErrorIs(t, yaml.Unmarshal([]byte("device_group: 1000\n"), &bad), ErrUnsupportedValue)
	assert.ErrorIs(t, yaml.Unmarshal([]byte("site: {a: b}\n"), &bad), ErrUnsupportedValue)

	out, err := json.Marshal(fromJSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"company":"Company-1","site":["Site-1","Site-2"]}`, string(out))
}

func TestMatches(t *testing.T) {
	fq := FieldQuery{"company": Eq("Company-1"), "device_group": In("1000", "2000")}

	assert.True(t, fq.Matches(ty.MI{"company": "Company-1", "device_group": "1000", "extra": 1}))
	assert.True(t, fq.Matches(ty.MI{"company": "Company-1", "device_group": 2000}))
	assert.False(t, fq.Matches(ty.MI{"company": "Company-1"}))
	assert.False(t, fq.Matches(ty.MI{"company": "Company-2", "device_group": "1000"}))
	assert.True(t, FieldQuery{}.Matches(ty.MI{}))
}

func TestResolveVariablesWith(t *testing.T) {
	fq := FieldQuery{"site": In("${SITE}", "Site-9"), "company": Eq("$COMPANY")}
	resolved := fq.ResolveVariablesWith(map[string]string{"SITE": "Site-1", "COMPANY": "Company-1"})
	assert.Equal(t, FieldQuery{"site": In("Site-1", "Site-9"), "company": Eq("Company-1")}, resolved)
	assert.Equal(t, "${SITE}", fq["site"].Values[0])
}
