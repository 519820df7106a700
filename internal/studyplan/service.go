// Package studyplan activates scheduled study sessions: at the stored
// start time it grants the study role, hands the expiry over to the
// roletimer engine, and either advances the row to its next occurrence
// (recurring) or deletes it (one-shot).
package studyplan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studybot/internal/directory"
	"studybot/internal/recurrence"
	"studybot/internal/roletimer"
	"studybot/internal/storage"
	logx "studybot/pkg/logx"
)

// ErrDurationRange rejects session durations outside one minute to one
// day, before anything is persisted.
var ErrDurationRange = errors.New("studyplan: duration must be between 1 and 1440 minutes")

const (
	minDurationMinutes = 1
	maxDurationMinutes = 1440
)

// Waker mirrors roletimer.Waker; both engines share one scheduler
// instance, with distinct key prefixes.
type Waker interface {
	Arm(key string, at time.Time, fn func())
	Cancel(key string) bool
}

type Service struct {
	store  *storage.Store
	dir    directory.Directory
	wake   Waker
	timers *roletimer.Service
	log    logx.Logger

	now func() time.Time
}

func New(store *storage.Store, dir directory.Directory, wake Waker, timers *roletimer.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, dir: dir, wake: wake, timers: timers, log: log, now: time.Now}
}

func scheduleKey(id int64) string {
	return fmt.Sprintf("study:%d", id)
}

// Add persists a new schedule and arms its wake-up, returning the
// generated id. The caller is responsible for supplying a future start
// (rolling "HH:MM" forward as needed); a start that has already elapsed
// is not rejected, it simply triggers on the spot.
func (s *Service) Add(ctx context.Context, userID, chatID int64, role string, start time.Time, durationMinutes int, recurring bool, day *time.Weekday) (int64, error) {
	if durationMinutes < minDurationMinutes || durationMinutes > maxDurationMinutes {
		return 0, ErrDurationRange
	}

	sc := storage.StudySchedule{
		UserID:          userID,
		ChatID:          chatID,
		Role:            role,
		StartTime:       start,
		DurationMinutes: durationMinutes,
		CreatedAt:       s.now(),
		Recurring:       recurring,
		DayOfWeek:       day,
	}
	id, err := s.store.InsertSchedule(ctx, sc)
	if err != nil {
		return 0, err
	}
	sc.ID = id

	s.arm(sc)
	s.log.Info("study session scheduled",
		logx.Int64("id", id), logx.Int64("user", userID), logx.Int64("chat", chatID),
		logx.Time("start", start), logx.Int("minutes", durationMinutes),
		logx.Bool("recurring", recurring))
	return id, nil
}

// Remove deletes the schedule and cancels its wake-up. Removing an
// unknown id reports false without error.
func (s *Service) Remove(ctx context.Context, id int64) (bool, error) {
	existed, err := s.store.DeleteSchedule(ctx, id)
	if err != nil {
		return false, err
	}
	s.wake.Cancel(scheduleKey(id))
	return existed, nil
}

// ListFor returns the member's schedules ascending by start time. The
// command layer uses it both for display and to verify ownership before
// Remove.
func (s *Service) ListFor(ctx context.Context, userID, chatID int64) ([]storage.StudySchedule, error) {
	return s.store.ListSchedulesFor(ctx, userID, chatID)
}

// InitializeFromStore re-arms every persisted schedule at startup. Rows
// already past due fire once immediately (activation advances them to
// their next future occurrence, or deletes one-shots), so a missed slot
// is delivered late rather than dropped, and never more than once. Run
// after roletimer.InitializeFromStore.
func (s *Service) InitializeFromStore(ctx context.Context) error {
	n, err := s.Resync(ctx)
	if err != nil {
		return err
	}
	s.log.Info("study schedules initialized", logx.Int("count", n))
	return nil
}

// Resync walks every stored schedule and (re-)arms its wake-up.
// Idempotent; also called periodically by the maintenance job.
func (s *Service) Resync(ctx context.Context) (int, error) {
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return 0, err
	}
	for _, sc := range schedules {
		s.arm(sc)
	}
	return len(schedules), nil
}

func (s *Service) arm(sc storage.StudySchedule) {
	s.wake.Arm(scheduleKey(sc.ID), sc.StartTime, func() {
		s.activate(sc)
	})
}

// activate runs when a schedule triggers. Grant failures and absent
// members are logged, not fatal: the recurrence chain always advances so
// one bad cycle cannot jam future sessions. Nothing here propagates an
// error out of the wake-up callback.
func (s *Service) activate(sc storage.StudySchedule) {
	ctx := context.Background()
	log := s.log.With(logx.Int64("id", sc.ID), logx.Int64("user", sc.UserID), logx.Int64("chat", sc.ChatID))

	// The row may have been removed or replaced while this callback was
	// in flight; a mismatch makes this fire a no-op.
	cur, found, err := s.store.GetSchedule(ctx, sc.ID)
	if err != nil {
		log.Error("schedule lookup failed at activation", logx.Err(err))
		return
	}
	if !found || cur.StartTime.UnixMilli() != sc.StartTime.UnixMilli() {
		log.Debug("schedule gone or superseded, skipping activation")
		return
	}

	member, err := s.dir.Member(ctx, sc.ChatID, sc.UserID)
	switch {
	case err == nil:
		s.grantAndTime(ctx, log, member, sc)
	case errors.Is(err, directory.ErrNotFound):
		log.Warn("member absent at activation, skipping this cycle")
	default:
		log.Warn("member lookup failed at activation", logx.Err(err))
	}

	if sc.Recurring {
		next := recurrence.NextAfter(sc.StartTime, s.now(), sc.DayOfWeek)
		if err := s.store.UpdateScheduleStart(ctx, sc.ID, next); err != nil {
			// Store is authoritative: without the persisted advance we
			// must not re-arm, or a crash could replay this slot twice.
			log.Error("failed to advance recurring schedule", logx.Err(err))
			return
		}
		sc.StartTime = next
		s.arm(sc)
		log.Info("recurring schedule advanced", logx.Time("next", next))
		return
	}

	if _, err := s.store.DeleteSchedule(ctx, sc.ID); err != nil {
		log.Error("failed to delete fired schedule", logx.Err(err))
	}
}

func (s *Service) grantAndTime(ctx context.Context, log logx.Logger, member directory.Member, sc storage.StudySchedule) {
	if err := member.GrantRole(ctx, sc.Role); err != nil {
		log.Warn("role grant failed at activation", logx.Err(err))
		text := "Your scheduled study session could not be started."
		if errors.Is(err, directory.ErrPermissionDenied) {
			text = "Your scheduled study session could not be started: the bot lacks permission to assign the study role. Please contact an admin."
		}
		if nerr := member.Notify(ctx, text); nerr != nil {
			log.Debug("failure notification not delivered", logx.Err(nerr))
		}
		return
	}

	if _, err := s.timers.Start(ctx, sc.UserID, sc.ChatID, sc.Role, sc.DurationMinutes); err != nil {
		log.Error("role granted but expiry timer not persisted", logx.Err(err))
	}

	log.Info("study session started", logx.Int("minutes", sc.DurationMinutes))
	text := fmt.Sprintf("Your scheduled study session has started. The study role will be removed after %d minutes.", sc.DurationMinutes)
	if err := member.Notify(ctx, text); err != nil {
		log.Debug("start notification not delivered", logx.Err(err))
	}
}
