// Package memory is a stand-in engine holding measurements in memory. It
// answers the four operations of the epidata entry point and is used for
// local development and tests.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bascanada/epidata/pkg/epidata/bridge"
	"github.com/bascanada/epidata/pkg/ty"
)

// Field names understood by the engine.
const (
	FieldTimestamp  = "ts"
	FieldMeasValue  = "meas_value"
	FieldMeasStatus = "meas_status"
	FieldMeasFlag   = "meas_flag"

	StatusFail = "FAIL"
)

// Version is announced in the ready message.
const Version = "memory-1"

// Engine stores records and answers invocations; safe for concurrent use.
type Engine struct {
	mu        sync.RWMutex
	records   []ty.MI
	keyFields []string
}

// New creates an engine over records. keyFields defaults to bridge.DefaultKeyFields.
func New(keyFields []string, records ...ty.MI) *Engine {
	if len(keyFields) == 0 {
		keyFields = bridge.DefaultKeyFields
	}
	e := &Engine{keyFields: append([]string{}, keyFields...)}
	e.Add(records...)
	return e
}

// Load reads a dataset file: either a JSON array of records or an object
// with a "records" array.
func Load(path string, keyFields []string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", path, err)
	}
	records, err := DecodeDataset(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode dataset %s: %w", path, err)
	}
	return New(keyFields, records...), nil
}

// DecodeDataset decodes a dataset, keeping numbers as json.Number.
func DecodeDataset(data []byte) ([]ty.MI, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []ty.MI{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if trimmed[0] == '[' {
		var records []ty.MI
		if err := dec.Decode(&records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var wrapped struct {
		Records []ty.MI `json:"records"`
	}
	if err := dec.Decode(&wrapped); err != nil {
		return nil, err
	}
	return wrapped.Records, nil
}

// Add appends records.
func (e *Engine) Add(records ...ty.MI) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, records...)
}

// KeyFields returns the fields listKeys projects on.
func (e *Engine) KeyFields() []string {
	return append([]string{}, e.keyFields...)
}

// Ready is the payload announced by Serve.
func (e *Engine) Ready() bridge.ReadyPayload {
	return bridge.ReadyPayload{EntryPoint: "com.epidata.spark.EpidataLiteContext", Version: Version}
}

// Close lets the engine stand in for a bridge; it holds nothing to release.
func (e *Engine) Close() error {
	return nil
}

// Invoke implements bridge.Handler.
func (e *Engine) Invoke(ctx context.Context, inv bridge.Invocation) ([]ty.MI, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch inv.Method {
	case bridge.MethodListKeys:
		return e.listKeys(), nil
	case bridge.MethodQuery, bridge.MethodQueryCleansed, bridge.MethodQuerySummary:
	default:
		return nil, &bridge.RemoteError{Method: inv.Method, Code: "UNKNOWN_METHOD", Message: fmt.Sprintf("no method %s on entry point", inv.Method)}
	}

	if inv.BeginTime == nil || inv.EndTime == nil {
		return nil, &bridge.RemoteError{Method: inv.Method, Code: "BAD_ARGUMENT", Message: "beginTime and endTime are required"}
	}

	selected, err := e.selectRecords(inv.FieldQuery, *inv.BeginTime, *inv.EndTime, inv.Method == bridge.MethodQueryCleansed)
	if err != nil {
		return nil, &bridge.RemoteError{Method: inv.Method, Code: "BAD_RECORD", Message: err.Error()}
	}

	if inv.Method == bridge.MethodQuerySummary {
		return e.summarize(selected), nil
	}
	return selected, nil
}

func (e *Engine) selectRecords(fields map[string][]string, begin, end int64, cleansed bool) ([]ty.MI, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := []ty.MI{}
	for _, record := range e.records {
		ts, err := Timestamp(record[FieldTimestamp])
		if err != nil {
			return nil, err
		}
		if ts < begin || ts >= end {
			continue
		}
		if !matches(record, fields) {
			continue
		}
		if cleansed && !isClean(record) {
			continue
		}
		out = append(out, copyRecord(record))
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, _ := Timestamp(out[i][FieldTimestamp])
		b, _ := Timestamp(out[j][FieldTimestamp])
		return a < b
	})
	return out, nil
}

func matches(record ty.MI, fields map[string][]string) bool {
	for field, accepted := range fields {
		value, ok := record[field]
		if !ok || value == nil {
			return false
		}
		str := fmt.Sprint(value)
		found := false
		for _, a := range accepted {
			if a == str {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func isClean(record ty.MI) bool {
	if status, ok := record[FieldMeasStatus]; ok && strings.EqualFold(fmt.Sprint(status), StatusFail) {
		return false
	}
	if flag, ok := record[FieldMeasFlag]; ok && flag != nil && fmt.Sprint(flag) != "" {
		return false
	}
	return true
}

type summary struct {
	key   ty.MI
	count int
	sum   float64
	min   float64
	max   float64
}

func (e *Engine) summarize(records []ty.MI) []ty.MI {
	groups := map[string]*summary{}
	order := []string{}

	for _, record := range records {
		value, ok := number(record[FieldMeasValue])
		if !ok {
			continue
		}

		key := ty.MI{}
		parts := make([]string, len(e.keyFields))
		for i, field := range e.keyFields {
			key[field] = record[field]
			parts[i] = fmt.Sprint(record[field])
		}
		id := strings.Join(parts, "\x00")

		s, ok := groups[id]
		if !ok {
			s = &summary{key: key, min: math.Inf(1), max: math.Inf(-1)}
			groups[id] = s
			order = append(order, id)
		}
		s.count++
		s.sum += value
		s.min = math.Min(s.min, value)
		s.max = math.Max(s.max, value)
	}

	out := make([]ty.MI, 0, len(order))
	for _, id := range order {
		s := groups[id]
		row := ty.MI{}
		row.Merge(s.key)
		row["meas_count"] = s.count
		row["meas_mean"] = s.sum / float64(s.count)
		row["meas_min"] = s.min
		row["meas_max"] = s.max
		out = append(out, row)
	}
	return out
}

func (e *Engine) listKeys() []ty.MI {
	e.mu.RLock()
	defer e.mu.RUnlock()

	seen := map[string]struct{}{}
	out := []ty.MI{}
	for _, record := range e.records {
		key := ty.MI{}
		parts := make([]string, len(e.keyFields))
		for i, field := range e.keyFields {
			key[field] = record[field]
			parts[i] = fmt.Sprint(record[field])
		}
		id := strings.Join(parts, "\x00")
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, key)
	}
	return out
}

// Timestamp reads an epoch millisecond value. Strings are accepted as
// integers or RFC 3339 times.
func Timestamp(v interface{}) (int64, error) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", t.String())
		}
		return int64(math.Floor(f)), nil
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		return int64(math.Floor(t)), nil
	case time.Time:
		return ty.EpochMillis(t), nil
	case string:
		if i, err := strconv.ParseInt(t, 10, 64); err == nil {
			return i, nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", t)
		}
		return ty.EpochMillis(parsed), nil
	case nil:
		return 0, fmt.Errorf("record has no %s field", FieldTimestamp)
	default:
		return 0, fmt.Errorf("invalid timestamp of type %T", v)
	}
}

func number(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

func copyRecord(record ty.MI) ty.MI {
	out := make(ty.MI, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}
