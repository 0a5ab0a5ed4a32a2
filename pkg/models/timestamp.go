package models

import (
	"strings"
	"time"
)

// TimestampLayout is the wall-clock format stored next to every epoch column.
const TimestampLayout = "2006-01-02 15:04:05"

// dateLayout is accepted for date-only filters.
const dateLayout = "2006-01-02"

// JST is the fixed UTC+9 zone used for display timestamps.
var JST = time.FixedZone("JST", 9*60*60)

// FormatTimestamp renders t as a second-precision JST wall-clock string.
func FormatTimestamp(t time.Time) string {
	return t.In(JST).Format(TimestampLayout)
}

// ParseTimestamp parses a date filter value. It accepts RFC 3339, the stored
// wall-clock layout (interpreted as JST) and a bare date.
//
// Stored epochs carry milliseconds while displayed timestamps stop at the
// second. When upper is set the value is an inclusive upper bound, so it is
// extended to the last millisecond of its precision: the end of the day for
// a bare date, the end of the second otherwise.
func ParseTimestamp(field, s string, upper bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return endOfSecond(t, upper), nil
	}
	if t, err := time.ParseInLocation(TimestampLayout, s, JST); err == nil {
		return endOfSecond(t, upper), nil
	}
	if t, err := time.ParseInLocation(dateLayout, s, JST); err == nil {
		if upper {
			return t.Add(24*time.Hour - time.Millisecond), nil
		}
		return t, nil
	}
	return time.Time{}, NewValidationError(field, "malformed date %q", s)
}

// endOfSecond extends a whole-second upper bound to its last millisecond.
// Bounds given with a fractional part are taken as is.
func endOfSecond(t time.Time, upper bool) time.Time {
	if !upper || t.Nanosecond() != 0 {
		return t
	}
	return t.Add(time.Second - time.Millisecond)
}
