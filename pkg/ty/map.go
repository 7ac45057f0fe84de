package ty

import (
	"fmt"
	"strings"
	"time"
)

// MI is a shorthand for map[string]interface{}
type MI map[string]interface{}

// MS is a shorthand for map[string]string
type MS map[string]string

// Merge merges another MI into this one.
func (mi *MI) Merge(mi2 MI) {
	for k, v := range mi2 {
		(*mi)[k] = v
	}
}

// GetString returns the value as a string if it exists and is a string, otherwise empty string.
func (mi MI) GetString(key string) string {
	v, _ := mi.GetStringOk(key)
	return v
}

// GetStringOk returns the value as a string if it exists and is a string, along with true.
func (mi MI) GetStringOk(key string) (string, bool) {
	v, ok := mi[key].(string)
	return v, ok
}

// GetMS returns the value as a MS, converting map[string]interface{} when needed.
func (mi MI) GetMS(key string) MS {
	v, b := mi[key]
	if !b {
		return MS{}
	}
	switch vv := v.(type) {
	case MS:
		return vv
	case map[string]string:
		return MS(vv)
	case MI:
		res := MS{}
		for k, val := range vv {
			res[k] = fmt.Sprint(val)
		}
		return res
	case map[string]interface{}:
		res := MS{}
		for k, val := range vv {
			res[k] = fmt.Sprint(val)
		}
		return res
	default:
		return MS{}
	}
}

// GetBoolOk returns the value as a bool if it exists and can be interpreted as boolean, along with true.
func (mi MI) GetBoolOk(key string) (bool, bool) {
	v, ok := mi[key]
	if !ok {
		return false, false
	}
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		s := strings.ToLower(val)
		if s == "true" || s == "yes" || s == "1" {
			return true, true
		}
		if s == "false" || s == "no" || s == "0" {
			return false, true
		}
	}
	return false, false
}

// GetListOfStringsOk returns the value as a slice of strings if it exists and can be converted, along with true.
// A single string is returned as a one element list.
func (mi MI) GetListOfStringsOk(key string) ([]string, bool) {
	v, ok := mi[key]
	if !ok {
		return nil, false
	}

	switch vv := v.(type) {
	case string:
		return []string{vv}, true
	case []string:
		return vv, true
	case []interface{}:
		res := make([]string, len(vv))
		for i, val := range vv {
			res[i] = fmt.Sprint(val)
		}
		return res, true
	default:
		return nil, false
	}
}

// GetDurationOk parses the value as a time.Duration ("30s", "2m").
// Numbers are taken as seconds.
func (mi MI) GetDurationOk(key string) (time.Duration, bool, error) {
	v, ok := mi[key]
	if !ok {
		return 0, false, nil
	}
	switch vv := v.(type) {
	case time.Duration:
		return vv, true, nil
	case int:
		return time.Duration(vv) * time.Second, true, nil
	case float64:
		return time.Duration(vv * float64(time.Second)), true, nil
	case string:
		d, err := time.ParseDuration(vv)
		if err != nil {
			return 0, true, fmt.Errorf("option %s: %w", key, err)
		}
		return d, true, nil
	default:
		return 0, true, fmt.Errorf("option %s: unsupported duration value %v", key, v)
	}
}

// MergeM copies child into parent, child winning, and returns parent.
func MergeM[T interface{}](parent map[string]T, child map[string]T) map[string]T {
	for k, v := range child {
		parent[k] = v
	}

	return parent
}
