package recurrence

import (
	"testing"
	"time"
)

func wd(d time.Weekday) *time.Weekday { return &d }

func TestNextOccurrenceDaily(t *testing.T) {
	last := time.Date(2026, 3, 9, 21, 30, 0, 0, time.UTC) // Monday
	next := NextOccurrence(last, nil)

	want := time.Date(2026, 3, 10, 21, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("daily next = %v, want %v", next, want)
	}
}

func TestNextOccurrenceDailyAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// Last session before the 2026 spring-forward (Mar 29 in Berlin).
	last := time.Date(2026, 3, 28, 20, 0, 0, 0, loc)
	next := NextOccurrence(last, nil)

	if next.Hour() != 20 || next.Minute() != 0 {
		t.Fatalf("wall-clock time not preserved across DST: got %v", next)
	}
	if next.Day() != 29 {
		t.Fatalf("expected next calendar day, got %v", next)
	}
}

func TestNextOccurrenceWeeklySameDay(t *testing.T) {
	last := time.Date(2026, 3, 11, 18, 0, 0, 0, time.UTC) // Wednesday
	next := NextOccurrence(last, wd(time.Wednesday))

	if got := next.Sub(last); got != 7*24*time.Hour {
		t.Fatalf("same-weekday next should be +7d, got %v", got)
	}
}

func TestNextOccurrenceWeeklyOtherDays(t *testing.T) {
	last := time.Date(2026, 3, 11, 18, 0, 0, 0, time.UTC) // Wednesday
	for target := time.Sunday; target <= time.Saturday; target++ {
		next := NextOccurrence(last, wd(target))
		if next.Weekday() != target {
			t.Fatalf("weekday %v: landed on %v", target, next.Weekday())
		}
		if !next.After(last) {
			t.Fatalf("weekday %v: next %v not after last %v", target, next, last)
		}
		days := int(next.Sub(last).Hours() / 24)
		if days < 1 || days > 7 {
			t.Fatalf("weekday %v: advanced %d days", target, days)
		}
		if next.Hour() != 18 || next.Minute() != 0 {
			t.Fatalf("weekday %v: time-of-day changed: %v", target, next)
		}
	}
}

func TestNextAfterSkipsMissedIntervals(t *testing.T) {
	// Weekly schedule that last fired 3 days ago.
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) // Saturday
	last := now.AddDate(0, 0, -3)                        // Wednesday
	next := NextAfter(last, now, wd(time.Wednesday))

	if !next.After(now) {
		t.Fatalf("next %v not in the future (now %v)", next, now)
	}
	days := next.Sub(now).Hours() / 24
	if days < 4 || days > 11 {
		t.Fatalf("expected next matching weekday 4-11 days out, got %.1f days", days)
	}
}

func TestNextAfterDailyLongOutage(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	last := now.AddDate(0, 0, -10).Add(-time.Hour)
	next := NextAfter(last, now, nil)

	if !next.After(now) {
		t.Fatalf("next %v not in the future", next)
	}
	if next.Sub(now) > 24*time.Hour {
		t.Fatalf("daily catch-up overshot: %v", next.Sub(now))
	}
}

func TestUpcomingAtRollsForward(t *testing.T) {
	now := time.Date(2026, 3, 11, 18, 0, 0, 0, time.UTC) // Wednesday 18:00

	// Earlier today -> tomorrow.
	at := UpcomingAt(now, 9, 30, nil)
	if at.Day() != 12 || at.Hour() != 9 || at.Minute() != 30 {
		t.Fatalf("past time-of-day should roll to tomorrow, got %v", at)
	}

	// Later today -> today.
	at = UpcomingAt(now, 21, 0, nil)
	if at.Day() != 11 || at.Hour() != 21 {
		t.Fatalf("future time-of-day should stay today, got %v", at)
	}

	// Same weekday, earlier time -> next week.
	at = UpcomingAt(now, 9, 0, wd(time.Wednesday))
	if at.Weekday() != time.Wednesday || !at.After(now) || at.Sub(now) > 7*24*time.Hour {
		t.Fatalf("same-weekday past time should land next week, got %v", at)
	}

	// Different weekday keeps requested time.
	at = UpcomingAt(now, 9, 0, wd(time.Friday))
	if at.Weekday() != time.Friday || at.Hour() != 9 {
		t.Fatalf("unexpected weekly roll: %v", at)
	}
}
