// Package recurrence computes trigger timestamps for repeating study
// sessions. All functions are pure: no I/O, no clock access beyond the
// arguments, which keeps them trivially testable.
package recurrence

import "time"

// NextOccurrence returns the trigger instant that follows last.
//
// With day == nil the cadence is daily: the same wall-clock time on the
// next calendar day. AddDate is used instead of Add(24h) so the result
// stays stable across DST transitions in the session's location.
//
// With day set (weekly cadence) the result is the next date strictly
// after last whose weekday equals day, preserving last's time-of-day.
// When day equals last's weekday this is exactly seven days later,
// never same-day: the caller has already fired for last.
func NextOccurrence(last time.Time, day *time.Weekday) time.Time {
	if day == nil {
		return last.AddDate(0, 0, 1)
	}
	delta := (int(*day) - int(last.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}
	return last.AddDate(0, 0, delta)
}

// NextAfter advances from last until the occurrence is strictly after
// now, returning that occurrence. It never returns last itself. This is
// the catch-up path for schedules that went past due while the process
// was down: the caller fires once for the missed slot and then re-arms
// at the value returned here, so a multi-day outage produces at most one
// late fire instead of one per missed interval.
func NextAfter(last, now time.Time, day *time.Weekday) time.Time {
	next := NextOccurrence(last, day)
	for !next.After(now) {
		next = NextOccurrence(next, day)
	}
	return next
}

// UpcomingAt maps a wall-clock time-of-day to the next absolute instant
// it occurs, from the perspective of now in now's location.
//
// With day == nil: today at hour:min if that is still in the future,
// otherwise tomorrow. With day set: the next date with that weekday
// (possibly today if the time has not passed yet).
//
// The command layer uses this to roll a user-supplied "HH:MM" forward to
// a valid future start before handing it to the schedule engine.
func UpcomingAt(now time.Time, hour, min int, day *time.Weekday) time.Time {
	at := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, now.Location())
	if day == nil {
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return at
	}
	delta := (int(*day) - int(now.Weekday()) + 7) % 7
	at = at.AddDate(0, 0, delta)
	if !at.After(now) {
		at = at.AddDate(0, 0, 7)
	}
	return at
}
