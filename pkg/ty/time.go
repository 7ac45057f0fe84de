package ty

import (
	"fmt"
	"regexp"
	"time"
)

// Time-only formats (HH:MM:SS or HH:MM)
var timeOnlyFormats = []string{
	"15:04:05",
	"15:04",
}

// Date-time formats without timezone
var dateTimeFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// durationRegex matches Go duration strings like "1h", "30m", "1h30m"
var durationRegex = regexp.MustCompile(`^-?(\d+(\.\d+)?(ns|us|µs|ms|s|m|h))+$`)

// IsDuration reports whether value is a Go duration string.
func IsDuration(value string) bool {
	return durationRegex.MatchString(value)
}

// NormalizeTimeValue attempts to normalize a time value to RFC3339 format.
// It handles:
// - Duration strings (1h, 30m) - returned as-is
// - RFC3339 timestamps - returned as-is
// - Time-only (HH:MM:SS, HH:MM) - converted to today's date at that time
// - Date-time without timezone - converted to local timezone
//
// Returns the normalized value and whether it was modified.
func NormalizeTimeValue(value string) (string, bool) {
	if value == "" {
		return value, false
	}

	if IsDuration(value) {
		return value, false
	}

	if _, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return value, false
	}

	for _, format := range timeOnlyFormats {
		if t, err := time.ParseInLocation(format, value, time.Local); err == nil {
			now := time.Now()
			fullTime := time.Date(now.Year(), now.Month(), now.Day(),
				t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.Local)
			return fullTime.Format(time.RFC3339Nano), true
		}
	}

	for _, format := range dateTimeFormats {
		if t, err := time.ParseInLocation(format, value, time.Local); err == nil {
			return t.Format(time.RFC3339Nano), true
		}
	}

	return value, false
}

// ParseTime turns a user supplied time value into an instant. Durations are
// taken relative to now ("1h" is one hour before now); everything else goes
// through NormalizeTimeValue and must then be RFC3339.
func ParseTime(value string, now time.Time) (time.Time, error) {
	if IsDuration(value) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(-d), nil
	}

	normalized, _ := NormalizeTimeValue(value)
	t, err := time.Parse(time.RFC3339Nano, normalized)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time value %q: expected RFC3339, date-time or duration", value)
	}
	return t, nil
}

// EpochMillis converts t to milliseconds since the unix epoch, truncating
// fractional milliseconds toward the past.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromEpochMillis is the inverse of EpochMillis at millisecond precision.
func FromEpochMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
