package ty

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Opt is an optional value that distinguishes "absent" (Set=false) from
// "explicitly null" (Set=true, Valid=false) when decoded from JSON or YAML.
type Opt[T interface{}] struct {
	Value T // inner value
	Set   bool
	Valid bool
}

func OptWrap[T interface{}](value T) Opt[T] {
	return Opt[T]{
		Value: value,
		Set:   true,
		Valid: true,
	}
}

// Merge overrides i with or when or was set.
func (i *Opt[T]) Merge(or *Opt[T]) {
	if or.Set {
		i.Value = or.Value
		i.Set = or.Set
		i.Valid = or.Valid
	}
}

func (i *Opt[T]) S(v T) {
	i.Value = v
	i.Set = true
	i.Valid = true
}

// Ok reports whether a usable value is present.
func (i Opt[T]) Ok() bool {
	return i.Set && i.Valid
}

// Or returns the value when present, def otherwise.
func (i Opt[T]) Or(def T) T {
	if i.Ok() {
		return i.Value
	}
	return def
}

func (i *Opt[T]) UnmarshalJSON(data []byte) error {
	i.Set = true

	if string(data) == "null" {
		i.Valid = false
		return nil
	}

	if err := json.Unmarshal(data, &i.Value); err != nil {
		return err
	}

	i.Valid = true

	return nil
}

func (i Opt[T]) MarshalJSON() ([]byte, error) {
	if !i.Ok() {
		return []byte("null"), nil
	}
	return json.Marshal(i.Value)
}

// UnmarshalYAML implements yaml.Unmarshaler for Opt[T]
func (i *Opt[T]) UnmarshalYAML(value *yaml.Node) error {
	i.Set = true
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		i.Valid = false
		return nil
	}
	var v T
	if err := value.Decode(&v); err != nil {
		return err
	}
	i.Value = v
	i.Valid = true
	return nil
}

// MarshalYAML implements yaml.Marshaler for Opt[T]
func (i Opt[T]) MarshalYAML() (interface{}, error) {
	if !i.Ok() {
		return nil, nil
	}
	return i.Value, nil
}
