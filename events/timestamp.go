package events

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timestamps above this are microseconds since epoch (YouTube's
// timestampUsec); anything at or below is milliseconds.
const microsecondThreshold = 1e13

// ParseTimestamp normalizes the timestamp shapes the platforms emit:
// RFC3339 strings, unix milliseconds, and unix microseconds. Numeric
// values greater than 10^13 are interpreted as microseconds and floored
// to milliseconds.
func ParseTimestamp(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, fmt.Errorf("empty timestamp")
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(n), nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		return t.UTC(), nil
	case int64:
		return fromEpoch(v), nil
	case int:
		return fromEpoch(int64(v)), nil
	case float64:
		return fromEpoch(int64(v)), nil
	case nil:
		return time.Time{}, fmt.Errorf("missing timestamp")
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", raw)
	}
}

func fromEpoch(n int64) time.Time {
	if n > microsecondThreshold {
		n = n / 1000 // microseconds -> milliseconds, floored
	}
	return time.UnixMilli(n).UTC()
}

// FormatTimestamp renders t the way the canonical schema serializes it:
// ISO-8601 UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
