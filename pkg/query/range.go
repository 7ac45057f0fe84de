package query

import (
	"errors"
	"fmt"
	"time"

	"github.com/bascanada/epidata/pkg/ty"
)

// ErrMissingBegin is returned when a range has neither a begin nor a last window.
var ErrMissingBegin = errors.New("time range needs a begin or a last window")

// ErrInvalidRange is returned when a range bound cannot be parsed.
var ErrInvalidRange = errors.New("invalid time range")

// TimeRange is a half-open interval: Begin inclusive, End exclusive.
// Begin <= End is left to the engine to enforce.
type TimeRange struct {
	Begin time.Time `json:"begin"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside [Begin, End).
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Begin) && t.Before(r.End)
}

// ContainsMillis is Contains on epoch milliseconds.
func (r TimeRange) ContainsMillis(ms int64) bool {
	return ms >= ty.EpochMillis(r.Begin) && ms < ty.EpochMillis(r.End)
}

// Empty reports whether no instant can fall in the range.
func (r TimeRange) Empty() bool {
	return !r.Begin.Before(r.End)
}

// Millis returns both bounds as engine timestamps.
func (r TimeRange) Millis() (int64, int64) {
	return ty.EpochMillis(r.Begin), ty.EpochMillis(r.End)
}

// RangeSpec is the unresolved form of a range as written in configuration or
// on the command line. Values are RFC3339 instants, local date-times, or
// durations relative to now.
type RangeSpec struct {
	Begin ty.Opt[string] `json:"begin,omitempty" yaml:"begin,omitempty"`
	End   ty.Opt[string] `json:"end,omitempty" yaml:"end,omitempty"`
	Last  ty.Opt[string] `json:"last,omitempty" yaml:"last,omitempty"`
}

// Merge overrides the set values of s with those of other.
func (s *RangeSpec) Merge(other *RangeSpec) {
	s.Begin.Merge(&other.Begin)
	s.End.Merge(&other.End)
	s.Last.Merge(&other.Last)
}

// Resolve turns the spec into a TimeRange. End defaults to now; Last wins
// over Begin and is measured back from End.
func (s RangeSpec) Resolve(now time.Time) (TimeRange, error) {
	end := now
	if s.End.Ok() && s.End.Value != "" {
		t, err := ty.ParseTime(s.End.Value, now)
		if err != nil {
			return TimeRange{}, fmt.Errorf("%w: end: %w", ErrInvalidRange, err)
		}
		end = t
	}

	if s.Last.Ok() && s.Last.Value != "" {
		d, err := time.ParseDuration(s.Last.Value)
		if err != nil {
			return TimeRange{}, fmt.Errorf("%w: last: %w", ErrInvalidRange, err)
		}
		return TimeRange{Begin: end.Add(-d), End: end}, nil
	}

	if !s.Begin.Ok() || s.Begin.Value == "" {
		return TimeRange{}, ErrMissingBegin
	}
	begin, err := ty.ParseTime(s.Begin.Value, now)
	if err != nil {
		return TimeRange{}, fmt.Errorf("%w: begin: %w", ErrInvalidRange, err)
	}
	return TimeRange{Begin: begin, End: end}, nil
}
