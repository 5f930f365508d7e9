// Package usage records admitted requests in an append-only ledger and
// aggregates them into calendar-bucketed time series.
package usage

import (
	"fmt"
	"time"
)

// Granularity is a calendar bucket width for usage aggregation.
type Granularity string

const (
	GranularitySecond Granularity = "second"
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
	GranularityMonth  Granularity = "month"
)

// ParseGranularity validates a user-supplied granularity string.
func ParseGranularity(raw string) (Granularity, error) {
	switch Granularity(raw) {
	case GranularitySecond, GranularityMinute, GranularityHour, GranularityDay, GranularityMonth:
		return Granularity(raw), nil
	default:
		return "", fmt.Errorf("usage: unknown granularity: %q", raw)
	}
}

// Window span thresholds for automatic granularity selection.
const (
	autoMinuteSpan = 2 * time.Hour
	autoHourSpan   = 24 * time.Hour
	autoDaySpan    = 30 * 24 * time.Hour
	autoMonthSpan  = 365 * 24 * time.Hour
)

// PickGranularity selects a bucket width for the window so the series
// stays at a readable resolution: up to two hours of data is shown per
// minute, up to a day per hour, up to thirty days per day, and anything
// longer per month. Windows longer than a year are rejected.
func PickGranularity(from, to time.Time) (Granularity, error) {
	span := to.Sub(from)
	if span < 0 {
		return "", fmt.Errorf("usage: window end %s precedes start %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	switch {
	case span <= autoMinuteSpan:
		return GranularityMinute, nil
	case span <= autoHourSpan:
		return GranularityHour, nil
	case span <= autoDaySpan:
		return GranularityDay, nil
	case span <= autoMonthSpan:
		return GranularityMonth, nil
	default:
		return "", fmt.Errorf("usage: window longer than one year")
	}
}

// Layout returns the time layout producing this granularity's canonical
// bucket label. The layouts match the SQL bucket expressions so labels
// computed in Go and in SQL agree.
func (g Granularity) Layout() string {
	switch g {
	case GranularitySecond:
		return "2006-01-02 15:04:05"
	case GranularityMinute:
		return "2006-01-02 15:04"
	case GranularityHour:
		return "2006-01-02 15"
	case GranularityDay:
		return "2006-01-02"
	case GranularityMonth:
		return "2006-01"
	default:
		return time.RFC3339
	}
}

// Unit returns the calendar unit name used by the SQL bucket expression.
func (g Granularity) Unit() string { return string(g) }

// Truncate rounds t down to the start of its bucket.
func (g Granularity) Truncate(t time.Time) time.Time {
	switch g {
	case GranularitySecond:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, t.Location())
	case GranularityMinute:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
	case GranularityHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	case GranularityDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case GranularityMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return t
	}
}

// Next returns the start of the bucket following t. t must already be a
// bucket start. Calendar arithmetic keeps month steps exact regardless
// of month length.
func (g Granularity) Next(t time.Time) time.Time {
	switch g {
	case GranularitySecond:
		return t.Add(time.Second)
	case GranularityMinute:
		return t.Add(time.Minute)
	case GranularityHour:
		return t.Add(time.Hour)
	case GranularityDay:
		return t.AddDate(0, 0, 1)
	case GranularityMonth:
		return t.AddDate(0, 1, 0)
	default:
		return t
	}
}

// Label formats t's bucket label.
func (g Granularity) Label(t time.Time) string {
	return g.Truncate(t).Format(g.Layout())
}
