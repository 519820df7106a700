// Package roletimer expires study roles. Each timer is a one-shot
// "revoke role at T" obligation keyed by (user, chat): the row in the
// store is the obligation, the armed wake-up is just how it gets acted
// on promptly.
package roletimer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studybot/internal/directory"
	"studybot/internal/storage"
	logx "studybot/pkg/logx"
)

// ErrBadDuration rejects non-positive timer durations before anything is
// persisted.
var ErrBadDuration = errors.New("roletimer: duration must be at least one minute")

// Waker arms and cancels in-process wake-ups. *wakeup.Scheduler is the
// production implementation; tests substitute a manual fake.
type Waker interface {
	Arm(key string, at time.Time, fn func())
	Cancel(key string) bool
}

// Service is the timer engine. Safe for concurrent use: per-key ordering
// comes from the store's atomic upsert/delete plus the waker's
// one-callback-per-key guarantee.
type Service struct {
	store *storage.Store
	dir   directory.Directory
	wake  Waker
	log   logx.Logger

	now func() time.Time
}

func New(store *storage.Store, dir directory.Directory, wake Waker, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, dir: dir, wake: wake, log: log, now: time.Now}
}

func timerKey(userID, chatID int64) string {
	return fmt.Sprintf("timer:%d:%d", chatID, userID)
}

// Start computes the expiry, persists the timer (replacing any existing
// one for the member) and arms the wake-up. The wake-up is only armed
// after the write succeeds; on a store failure the previous in-memory
// state is left untouched and the error is returned to the caller.
func (s *Service) Start(ctx context.Context, userID, chatID int64, role string, durationMinutes int) (time.Time, error) {
	if durationMinutes < 1 {
		return time.Time{}, ErrBadDuration
	}

	now := s.now()
	t := storage.RoleTimer{
		UserID:    userID,
		ChatID:    chatID,
		Role:      role,
		ExpiresAt: now.Add(time.Duration(durationMinutes) * time.Minute),
		CreatedAt: now,
	}
	if err := s.store.UpsertRoleTimer(ctx, t); err != nil {
		return time.Time{}, err
	}

	s.arm(t)
	s.log.Info("role timer started",
		logx.Int64("user", userID), logx.Int64("chat", chatID),
		logx.String("role", role), logx.Time("expires_at", t.ExpiresAt))
	return t.ExpiresAt, nil
}

// Cancel removes the timer row and its wake-up. Cancelling a member with
// no timer is a no-op reporting false.
func (s *Service) Cancel(ctx context.Context, userID, chatID int64) (bool, error) {
	existed, err := s.store.DeleteRoleTimer(ctx, userID, chatID)
	if err != nil {
		return false, err
	}
	s.wake.Cancel(timerKey(userID, chatID))
	return existed, nil
}

// Remaining reports how long until the member's timer expires, reading
// the store rather than memory so the answer survives cache rebuilds.
// Zero means no timer (or one already due).
func (s *Service) Remaining(ctx context.Context, userID, chatID int64) (time.Duration, error) {
	t, found, err := s.store.GetRoleTimer(ctx, userID, chatID)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	rem := t.ExpiresAt.Sub(s.now())
	if rem < 0 {
		rem = 0
	}
	return rem, nil
}

// InitializeFromStore is the crash-recovery path: it re-arms a wake-up
// for every persisted timer, discharging already-due ones on the spot.
// Run it before schedule bootstrap so expired roles are revoked before
// new activations grant them again.
func (s *Service) InitializeFromStore(ctx context.Context) error {
	n, err := s.Resync(ctx)
	if err != nil {
		return err
	}
	s.log.Info("role timers initialized", logx.Int("count", n))
	return nil
}

// Resync walks every stored timer and arms or discharges it. It is
// idempotent (arming replaces the existing wake-up for the key) so the
// maintenance job may call it periodically to repair drift.
func (s *Service) Resync(ctx context.Context) (int, error) {
	timers, err := s.store.ListRoleTimers(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	for _, t := range timers {
		if !t.ExpiresAt.After(now) {
			s.discharge(t)
			continue
		}
		s.arm(t)
	}
	return len(timers), nil
}

func (s *Service) arm(t storage.RoleTimer) {
	s.wake.Arm(timerKey(t.UserID, t.ChatID), t.ExpiresAt, func() {
		s.discharge(t)
	})
}

// discharge revokes the role if the member still holds it and removes
// the row. It is idempotent: the role already being gone, the member
// having left, or the row already being deleted all leave the same end
// state and none of them is an error. Failures never propagate out of
// the wake-up callback.
func (s *Service) discharge(t storage.RoleTimer) {
	ctx := context.Background()
	log := s.log.With(logx.Int64("user", t.UserID), logx.Int64("chat", t.ChatID), logx.String("role", t.Role))

	// The row may have been cancelled or replaced by a fresh Start while
	// this callback was in flight; a mismatch makes this fire a no-op so
	// a stale expiry never cuts a newer session short.
	cur, found, err := s.store.GetRoleTimer(ctx, t.UserID, t.ChatID)
	if err != nil {
		log.Error("timer lookup failed at discharge", logx.Err(err))
		return
	}
	if !found || cur.ExpiresAt.UnixMilli() != t.ExpiresAt.UnixMilli() {
		log.Debug("timer gone or superseded, skipping discharge")
		return
	}

	member, err := s.dir.Member(ctx, t.ChatID, t.UserID)
	switch {
	case err == nil:
		if member.HasRole(t.Role) {
			if err := member.RevokeRole(ctx, t.Role); err != nil {
				log.Warn("role revoke failed", logx.Err(err))
			} else {
				log.Info("role timer expired, role revoked")
				if err := member.Notify(ctx, "Your study time has ended. The study role has been removed."); err != nil {
					log.Debug("expiry notification failed", logx.Err(err))
				}
			}
		} else {
			log.Debug("role already removed before expiry")
		}
	case errors.Is(err, directory.ErrNotFound):
		log.Debug("member gone, dropping timer")
	default:
		log.Warn("member lookup failed during discharge", logx.Err(err))
	}

	// The obligation is settled either way; only the row remains.
	if _, err := s.store.DeleteRoleTimer(ctx, t.UserID, t.ChatID); err != nil {
		log.Error("failed to delete discharged timer", logx.Err(err))
	}
}
