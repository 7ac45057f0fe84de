// Package query models the field constraints and time range of a measurement
// query, and translates them into the engine parameter encoding.
package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bascanada/epidata/pkg/ty"
)

var (
	// ErrUnsupportedValue is returned when a field value is neither a text
	// token nor a set of text tokens.
	ErrUnsupportedValue = errors.New("unsupported field query value")
	// ErrInvalidField is returned for empty field names.
	ErrInvalidField = errors.New("invalid field name")
)

// Value is the constraint on one field: a single token for an equality match
// or a set of tokens for set membership.
type Value struct {
	Values []string
	Set    bool
}

// Eq builds an equality constraint.
func Eq(v string) Value {
	return Value{Values: []string{v}}
}

// In builds a set membership constraint. Duplicates are dropped.
func In(vs ...string) Value {
	seen := make(map[string]struct{}, len(vs))
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return Value{Values: out, Set: true}
}

// Matches reports whether token satisfies the constraint.
func (v Value) Matches(token string) bool {
	for _, candidate := range v.Values {
		if candidate == token {
			return true
		}
	}
	return false
}

func (v Value) String() string {
	if !v.Set && len(v.Values) == 1 {
		return v.Values[0]
	}
	return "[" + strings.Join(v.Values, ",") + "]"
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Set && len(v.Values) == 1 {
		return json.Marshal(v.Values[0])
	}
	return json.Marshal(v.Values)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := valueFromAny("", raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) MarshalYAML() (interface{}, error) {
	if !v.Set && len(v.Values) == 1 {
		return v.Values[0], nil
	}
	return v.Values, nil
}

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag != "!!str" {
			return fmt.Errorf("%w: line %d: expected text, got %s", ErrUnsupportedValue, node.Line, node.Tag)
		}
		*v = Eq(node.Value)
		return nil
	case yaml.SequenceNode:
		values := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode || item.Tag != "!!str" {
				return fmt.Errorf("%w: line %d: set members must be text", ErrUnsupportedValue, item.Line)
			}
			values = append(values, item.Value)
		}
		*v = In(values...)
		return nil
	default:
		return fmt.Errorf("%w: line %d: expected text or list of text", ErrUnsupportedValue, node.Line)
	}
}

// FieldQuery maps a field name to its constraint. A measurement matches when
// every field matches.
type FieldQuery map[string]Value

// FromAny translates a loosely typed mapping, as decoded from JSON or given by
// an API caller, into a FieldQuery. Values that are not text or a set of text
// are rejected, never coerced.
func FromAny(m map[string]interface{}) (FieldQuery, error) {
	fq := make(FieldQuery, len(m))
	for field, raw := range m {
		if strings.TrimSpace(field) == "" {
			return nil, fmt.Errorf("%w: empty field name", ErrInvalidField)
		}
		v, err := valueFromAny(field, raw)
		if err != nil {
			return nil, err
		}
		fq[field] = v
	}
	return fq, nil
}

func valueFromAny(field string, raw interface{}) (Value, error) {
	switch vv := raw.(type) {
	case string:
		return Eq(vv), nil
	case Value:
		return vv, nil
	case []string:
		return In(vv...), nil
	case []interface{}:
		values := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return Value{}, unsupported(field, item, "set member")
			}
			values = append(values, s)
		}
		return In(values...), nil
	case map[string]struct{}:
		return In(sortedKeys(vv)...), nil
	case map[string]bool:
		values := make([]string, 0, len(vv))
		for k, in := range vv {
			if in {
				values = append(values, k)
			}
		}
		sort.Strings(values)
		return In(values...), nil
	default:
		return Value{}, unsupported(field, raw, "value")
	}
}

func unsupported(field string, raw interface{}, what string) error {
	if field == "" {
		return fmt.Errorf("%w: %s of type %T, expected text or set of text", ErrUnsupportedValue, what, raw)
	}
	return fmt.Errorf("%w: field %q: %s of type %T, expected text or set of text", ErrUnsupportedValue, field, what, raw)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Keys returns the field names in sorted order.
func (fq FieldQuery) Keys() []string {
	return sortedKeys(fq)
}

// Encode produces the engine encoding: every field maps to a list of tokens,
// a single token becoming a one element list.
func (fq FieldQuery) Encode() (map[string][]string, error) {
	out := make(map[string][]string, len(fq))
	for field, v := range fq {
		if strings.TrimSpace(field) == "" {
			return nil, fmt.Errorf("%w: empty field name", ErrInvalidField)
		}
		if len(v.Values) == 0 && !v.Set {
			return nil, fmt.Errorf("%w: field %q has no value", ErrUnsupportedValue, field)
		}
		values := make([]string, len(v.Values))
		copy(values, v.Values)
		out[field] = values
	}
	return out, nil
}

// Decode is the inverse of Encode; one element lists become equality matches.
func Decode(encoded map[string][]string) FieldQuery {
	fq := make(FieldQuery, len(encoded))
	for field, values := range encoded {
		if len(values) == 1 {
			fq[field] = Eq(values[0])
		} else {
			fq[field] = In(values...)
		}
	}
	return fq
}

// Merge returns a new FieldQuery with the fields of other overriding fq.
func (fq FieldQuery) Merge(other FieldQuery) FieldQuery {
	out := make(FieldQuery, len(fq)+len(other))
	for k, v := range fq {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// ResolveVariablesWith resolves ${VAR} references inside every token.
func (fq FieldQuery) ResolveVariablesWith(vars map[string]string) FieldQuery {
	out := make(FieldQuery, len(fq))
	for k, v := range fq {
		values := make([]string, len(v.Values))
		for i, token := range v.Values {
			values[i] = ty.ResolveVars(token, vars)
		}
		out[k] = Value{Values: values, Set: v.Set}
	}
	return out
}

// Matches reports whether a record satisfies every field constraint.
// Record values are compared by their text form.
func (fq FieldQuery) Matches(record ty.MI) bool {
	for field, v := range fq {
		raw, ok := record[field]
		if !ok || raw == nil {
			return false
		}
		if !v.Matches(fmt.Sprint(raw)) {
			return false
		}
	}
	return true
}

// ParseFlags parses command line constraints. "key=value" is an equality
// match, "key=a,b" a set membership; a key given twice accumulates a set.
func ParseFlags(flags []string) (FieldQuery, error) {
	fq := FieldQuery{}
	for _, f := range flags {
		key, raw, ok := strings.Cut(f, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q, expected key=value", ErrInvalidField, f)
		}

		tokens := splitTokens(raw)
		if len(tokens) == 0 {
			return nil, fmt.Errorf("%w: field %q has no value", ErrUnsupportedValue, key)
		}

		if prev, exists := fq[key]; exists {
			fq[key] = In(append(append([]string{}, prev.Values...), tokens...)...)
			continue
		}
		if len(tokens) == 1 && !strings.Contains(raw, ",") {
			fq[key] = Eq(tokens[0])
		} else {
			fq[key] = In(tokens...)
		}
	}
	return fq, nil
}

// FromMS builds a FieldQuery from a flat string map, as loaded from a file
// with ty.MS.LoadMS. Comma separated values become sets.
func FromMS(ms ty.MS) (FieldQuery, error) {
	flags := make([]string, 0, len(ms))
	for _, k := range sortedKeys(ms) {
		flags = append(flags, k+"="+ms[k])
	}
	return ParseFlags(flags)
}

func splitTokens(raw string) []string {
	var tokens []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			tokens = append(tokens, part)
		}
	}
	return tokens
}
