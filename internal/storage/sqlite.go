package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "studybot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the durable side of the scheduling core. It survives process
// restarts and is the single source of truth for pending obligations;
// in-memory wake-ups are always rebuilt from it at bootstrap.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Checkpoint folds the WAL back into the main database file. Run from
// the maintenance job during quiet hours.
func (s *Store) Checkpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return wrap("checkpoint", err)
}

// ---- role_timers ----

// UpsertRoleTimer inserts the timer, replacing any prior row for the
// same (user, chat) pair. Last write wins: restarting a study session
// resets the whole duration.
func (s *Store) UpsertRoleTimer(ctx context.Context, t RoleTimer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO role_timers(user_id, guild_id, role_id, expires_at, created_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(user_id, guild_id) DO UPDATE SET
		   role_id=excluded.role_id,
		   expires_at=excluded.expires_at,
		   created_at=excluded.created_at`,
		t.UserID, t.ChatID, t.Role, t.ExpiresAt.UnixMilli(), t.CreatedAt.UnixMilli(),
	)
	return wrap("upsert role timer", err)
}

// DeleteRoleTimer removes the row for (user, chat) and reports whether
// one existed. Deleting an absent row is not an error.
func (s *Store) DeleteRoleTimer(ctx context.Context, userID, chatID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM role_timers WHERE user_id = ? AND guild_id = ?`, userID, chatID)
	if err != nil {
		return false, wrap("delete role timer", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) GetRoleTimer(ctx context.Context, userID, chatID int64) (RoleTimer, bool, error) {
	var (
		t       RoleTimer
		expires int64
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, guild_id, role_id, expires_at, created_at
		 FROM role_timers WHERE user_id = ? AND guild_id = ?`, userID, chatID,
	).Scan(&t.UserID, &t.ChatID, &t.Role, &expires, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return RoleTimer{}, false, nil
	}
	if err != nil {
		return RoleTimer{}, false, wrap("get role timer", err)
	}
	t.ExpiresAt = time.UnixMilli(expires)
	t.CreatedAt = time.UnixMilli(created)
	return t, true, nil
}

// ListRoleTimers returns every undischarged timer, including past-due
// ones. Bootstrap relies on nothing being filtered here.
func (s *Store) ListRoleTimers(ctx context.Context) ([]RoleTimer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, guild_id, role_id, expires_at, created_at FROM role_timers`)
	if err != nil {
		return nil, wrap("list role timers", err)
	}
	defer rows.Close()

	var out []RoleTimer
	for rows.Next() {
		var (
			t       RoleTimer
			expires int64
			created int64
		)
		if err := rows.Scan(&t.UserID, &t.ChatID, &t.Role, &expires, &created); err != nil {
			return nil, wrap("scan role timer", err)
		}
		t.ExpiresAt = time.UnixMilli(expires)
		t.CreatedAt = time.UnixMilli(created)
		out = append(out, t)
	}
	return out, wrap("list role timers", rows.Err())
}

// ---- scheduled_study ----

func (s *Store) InsertSchedule(ctx context.Context, sc StudySchedule) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_study
		   (user_id, guild_id, role_id, start_time, duration_minutes, created_at, is_recurring, day_of_week)
		 VALUES(?,?,?,?,?,?,?,?)`,
		sc.UserID, sc.ChatID, sc.Role, sc.StartTime.UnixMilli(), sc.DurationMinutes,
		sc.CreatedAt.UnixMilli(), boolToInt(sc.Recurring), weekdayToNull(sc.DayOfWeek),
	)
	if err != nil {
		return 0, wrap("insert schedule", err)
	}
	id, err := res.LastInsertId()
	return id, wrap("insert schedule", err)
}

func (s *Store) DeleteSchedule(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_study WHERE id = ?`, id)
	if err != nil {
		return false, wrap("delete schedule", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) GetSchedule(ctx context.Context, id int64) (StudySchedule, bool, error) {
	row := s.db.QueryRowContext(ctx, scheduleSelect+` WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StudySchedule{}, false, nil
	}
	if err != nil {
		return StudySchedule{}, false, wrap("get schedule", err)
	}
	return sc, true, nil
}

// UpdateScheduleStart replaces the row's trigger time in place. This is
// how a recurring schedule advances; the row never accumulates history.
func (s *Store) UpdateScheduleStart(ctx context.Context, id int64, start time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_study SET start_time = ? WHERE id = ?`, start.UnixMilli(), id)
	return wrap("update schedule start", err)
}

// ListSchedulesFor returns the member's schedules ascending by start
// time, for listing and for ownership checks before removal.
func (s *Store) ListSchedulesFor(ctx context.Context, userID, chatID int64) ([]StudySchedule, error) {
	rows, err := s.db.QueryContext(ctx,
		scheduleSelect+` WHERE user_id = ? AND guild_id = ? ORDER BY start_time ASC`,
		userID, chatID)
	if err != nil {
		return nil, wrap("list member schedules", err)
	}
	return collectSchedules(rows, "list member schedules")
}

// ListSchedules returns every schedule, past-due included.
func (s *Store) ListSchedules(ctx context.Context) ([]StudySchedule, error) {
	rows, err := s.db.QueryContext(ctx, scheduleSelect+` ORDER BY start_time ASC`)
	if err != nil {
		return nil, wrap("list schedules", err)
	}
	return collectSchedules(rows, "list schedules")
}

const scheduleSelect = `SELECT id, user_id, guild_id, role_id, start_time, duration_minutes, created_at, is_recurring, day_of_week
FROM scheduled_study`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(r rowScanner) (StudySchedule, error) {
	var (
		sc        StudySchedule
		start     int64
		created   int64
		recurring int
		day       sql.NullInt64
	)
	err := r.Scan(&sc.ID, &sc.UserID, &sc.ChatID, &sc.Role, &start,
		&sc.DurationMinutes, &created, &recurring, &day)
	if err != nil {
		return StudySchedule{}, err
	}
	sc.StartTime = time.UnixMilli(start)
	sc.CreatedAt = time.UnixMilli(created)
	sc.Recurring = recurring != 0
	if day.Valid {
		wd := time.Weekday(day.Int64)
		sc.DayOfWeek = &wd
	}
	return sc, nil
}

func collectSchedules(rows *sql.Rows, op string) ([]StudySchedule, error) {
	defer rows.Close()
	var out []StudySchedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, sc)
	}
	return out, wrap(op, rows.Err())
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func weekdayToNull(d *time.Weekday) any {
	if d == nil {
		return nil
	}
	return int64(*d)
}
