package storage

import (
	"errors"
	"time"
)

// ErrPersistence wraps every store read/write failure so callers can
// classify with errors.Is without caring about driver details. When a
// write fails the caller must not arm or modify the in-memory wake-up:
// the database stays authoritative.
var ErrPersistence = errors.New("storage: persistence failure")

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// RoleTimer is a one-shot "revoke role at ExpiresAt" obligation. At most
// one row exists per (UserID, ChatID); inserting again replaces it.
type RoleTimer struct {
	UserID    int64
	ChatID    int64
	Role      string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// StudySchedule is a future role activation. Recurring rows have their
// StartTime replaced in place after each trigger; one-shot rows are
// deleted after firing. DayOfWeek nil means daily cadence when Recurring
// is set.
type StudySchedule struct {
	ID              int64
	UserID          int64
	ChatID          int64
	Role            string
	StartTime       time.Time
	DurationMinutes int
	CreatedAt       time.Time
	Recurring       bool
	DayOfWeek       *time.Weekday
}
