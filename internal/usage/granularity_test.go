package usage

import (
	"testing"
	"time"
)

func TestPickGranularityThresholds(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		span time.Duration
		want Granularity
	}{
		{90 * time.Minute, GranularityMinute},
		{2 * time.Hour, GranularityMinute},
		{3 * time.Hour, GranularityHour},
		{24 * time.Hour, GranularityHour},
		{48 * time.Hour, GranularityDay},
		{30 * 24 * time.Hour, GranularityDay},
		{31 * 24 * time.Hour, GranularityMonth},
		{365 * 24 * time.Hour, GranularityMonth},
	}
	for _, tc := range cases {
		got, errPick := PickGranularity(base, base.Add(tc.span))
		if errPick != nil {
			t.Fatalf("pick for span %s: %v", tc.span, errPick)
		}
		if got != tc.want {
			t.Fatalf("span %s: got %s, want %s", tc.span, got, tc.want)
		}
	}
}

func TestPickGranularityRejectsBadWindows(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if _, errPick := PickGranularity(base, base.Add(-time.Hour)); errPick == nil {
		t.Fatal("expected error for inverted window")
	}
	if _, errPick := PickGranularity(base, base.Add(400*24*time.Hour)); errPick == nil {
		t.Fatal("expected error for window over a year")
	}
}

func TestGranularityTruncateAndNext(t *testing.T) {
	at := time.Date(2026, 1, 31, 23, 59, 30, 0, time.UTC)

	if got := GranularityMonth.Truncate(at); !got.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("month truncate: got %s", got)
	}
	if got := GranularityMonth.Next(GranularityMonth.Truncate(at)); !got.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("month next: got %s", got)
	}
	if got := GranularityDay.Next(time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)); !got.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("day next across month end: got %s", got)
	}
	if got := GranularityHour.Label(at); got != "2026-01-31 23" {
		t.Fatalf("hour label: got %q", got)
	}
	if got := GranularityMinute.Label(at); got != "2026-01-31 23:59" {
		t.Fatalf("minute label: got %q", got)
	}
	if got := GranularitySecond.Label(at.Add(500 * time.Millisecond)); got != "2026-01-31 23:59:30" {
		t.Fatalf("second label: got %q", got)
	}
	if got := GranularitySecond.Next(at); !got.Equal(at.Add(time.Second)) {
		t.Fatalf("second next: got %s", got)
	}
}

func TestParseGranularity(t *testing.T) {
	if _, errParse := ParseGranularity("hour"); errParse != nil {
		t.Fatalf("parse hour: %v", errParse)
	}
	if _, errParse := ParseGranularity("second"); errParse != nil {
		t.Fatalf("parse second: %v", errParse)
	}
	if _, errParse := ParseGranularity("fortnight"); errParse == nil {
		t.Fatal("expected error for unknown granularity")
	}
}
