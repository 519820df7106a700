// Package wakeup owns the in-process map of deferred callbacks ("fire fn
// at time T"). It is a liveness cache only: the durable store remains the
// source of truth, and every armed entry can be rebuilt from it after a
// restart.
package wakeup

import (
	"sync"
	"time"

	logx "studybot/pkg/logx"
)

// Scheduler arms at most one pending callback per key. Arming an already
// armed key replaces the previous callback atomically, so a key never has
// two fires in flight. All methods are safe for concurrent use.
type Scheduler struct {
	log logx.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	// ver ignores stale callbacks from timers that were replaced or
	// cancelled after their AfterFunc already fired but before it could
	// take the lock.
	ver     map[string]uint64
	stopped bool

	now       func() time.Time
	afterFunc func(d time.Duration, fn func()) *time.Timer
}

func New(log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		log:       log,
		timers:    map[string]*time.Timer{},
		ver:       map[string]uint64{},
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
}

// Now returns the scheduler's current time. Engines share this clock so
// expiry computation and timer arming cannot drift apart in tests.
func (s *Scheduler) Now() time.Time {
	s.mu.Lock()
	now := s.now
	s.mu.Unlock()
	return now()
}

// Arm schedules fn to run once at the given instant, replacing any
// pending callback for key. An instant at or before now fires almost
// immediately (still asynchronously, on the timer goroutine). The handle
// is released before fn runs, so fn may re-arm the same key.
func (s *Scheduler) Arm(key string, at time.Time, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if t, ok := s.timers[key]; ok {
		_ = t.Stop()
		delete(s.timers, key)
	}
	ver := s.ver[key] + 1
	s.ver[key] = ver

	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.timers[key] = s.afterFunc(delay, func() {
		s.mu.Lock()
		if s.stopped || s.ver[key] != ver {
			s.mu.Unlock()
			return
		}
		// Release the handle before running the callback so a
		// re-entrant Arm/Cancel from inside fn sees a clean slate. The
		// version entry stays: it must only ever grow, or a suppressed
		// stale callback could match a recycled version after a
		// fire-and-re-arm of the same key.
		delete(s.timers, key)
		s.mu.Unlock()

		fn()
	})
}

// Cancel stops the pending callback for key, if any, and reports whether
// one was armed. A callback that already fired but has not yet run its
// body is suppressed via the version check.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[key]
	if !ok {
		return false
	}
	_ = t.Stop()
	delete(s.timers, key)
	s.ver[key]++
	return true
}

// Armed reports whether key currently has a pending callback.
func (s *Scheduler) Armed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Len returns the number of armed callbacks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every armed callback and rejects further arming. Pending
// callbacks that already fired are suppressed.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	for key, t := range s.timers {
		_ = t.Stop()
		delete(s.timers, key)
	}
	s.log.Debug("wakeup scheduler stopped")
}
