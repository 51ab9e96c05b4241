// Package timespan parses user-facing time ranges and provides the
// day-bucket math used by the cache watermarks. All bucket boundaries
// are computed in the configured IANA timezone; message timestamps stay
// decimal seconds.
package timespan

import (
	"fmt"
	"strings"
	"time"
)

const dayFormat = "2006-01-02"

// Range is a bounded historical window.
type Range struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether the ts (decimal seconds) lies within the
// range, inclusive.
func (r Range) Contains(ts float64) bool {
	return ts >= r.StartTS() && ts <= r.EndTS()
}

// StartTS is the range start as decimal seconds.
func (r Range) StartTS() float64 {
	return float64(r.Start.UnixMicro()) / 1e6
}

// EndTS is the range end as decimal seconds.
func (r Range) EndTS() float64 {
	return float64(r.End.UnixMicro()) / 1e6
}

// Oldest formats the range start as a platform ts string.
func (r Range) Oldest() string {
	return fmt.Sprintf("%.6f", r.StartTS())
}

// Latest formats the range end as a platform ts string.
func (r Range) Latest() string {
	return fmt.Sprintf("%.6f", r.EndTS())
}

// ExtendEarlier returns the range with its start moved back by d. The
// fetcher uses a 24h extension for context lookback.
func (r Range) ExtendEarlier(d time.Duration) Range {
	return Range{Start: r.Start.Add(-d), End: r.End}
}

// Parse resolves a timespan token relative to now in loc. Supported
// forms: today, yesterday, last-week, YYYY-MM-DD, and
// YYYY-MM-DD..YYYY-MM-DD.
func Parse(token string, loc *time.Location, now time.Time) (Range, error) {
	now = now.In(loc)
	switch token {
	case "today":
		return Range{Start: StartOfDay(now, loc), End: now}, nil
	case "yesterday":
		start := StartOfDay(now, loc).AddDate(0, 0, -1)
		return Range{Start: start, End: start.AddDate(0, 0, 1).Add(-time.Microsecond)}, nil
	case "last-week":
		// The seven full days preceding today.
		end := StartOfDay(now, loc).Add(-time.Microsecond)
		return Range{Start: StartOfDay(now, loc).AddDate(0, 0, -7), End: end}, nil
	}

	if from, to, ok := strings.Cut(token, ".."); ok {
		start, err := time.ParseInLocation(dayFormat, from, loc)
		if err != nil {
			return Range{}, fmt.Errorf("invalid timespan %q: %w", token, err)
		}
		endDay, err := time.ParseInLocation(dayFormat, to, loc)
		if err != nil {
			return Range{}, fmt.Errorf("invalid timespan %q: %w", token, err)
		}
		end := endDay.AddDate(0, 0, 1).Add(-time.Microsecond)
		if end.Before(start) {
			return Range{}, fmt.Errorf("invalid timespan %q: end precedes start", token)
		}
		return Range{Start: start, End: end}, nil
	}

	day, err := time.ParseInLocation(dayFormat, token, loc)
	if err != nil {
		return Range{}, fmt.Errorf("invalid timespan %q (want today, yesterday, last-week, YYYY-MM-DD, or YYYY-MM-DD..YYYY-MM-DD)", token)
	}
	return Range{Start: day, End: day.AddDate(0, 0, 1).Add(-time.Microsecond)}, nil
}

// StartOfDay truncates t to local midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DayBucket formats the day containing ts (decimal seconds) in loc.
func DayBucket(ts float64, loc *time.Location) string {
	sec := int64(ts)
	return time.Unix(sec, 0).In(loc).Format(dayFormat)
}

// Days lists the YYYY-MM-DD buckets the range intersects, in order.
func Days(r Range, loc *time.Location) []string {
	var days []string
	cur := StartOfDay(r.Start, loc)
	for !cur.After(r.End) {
		days = append(days, cur.Format(dayFormat))
		cur = cur.AddDate(0, 0, 1)
	}
	return days
}

// DayBounds returns the range covering one YYYY-MM-DD bucket.
func DayBounds(day string, loc *time.Location) (Range, error) {
	start, err := time.ParseInLocation(dayFormat, day, loc)
	if err != nil {
		return Range{}, fmt.Errorf("invalid day bucket %q: %w", day, err)
	}
	return Range{Start: start, End: start.AddDate(0, 0, 1).Add(-time.Microsecond)}, nil
}
