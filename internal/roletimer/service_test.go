package roletimer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"studybot/internal/directory"
	"studybot/internal/storage"
	logx "studybot/pkg/logx"
)

// fakeWaker records armed callbacks and fires them on demand, so tests
// control time instead of sleeping.
type fakeWaker struct {
	mu    sync.Mutex
	armed map[string]armedEntry
}

type armedEntry struct {
	at time.Time
	fn func()
}

func newFakeWaker() *fakeWaker {
	return &fakeWaker{armed: map[string]armedEntry{}}
}

func (w *fakeWaker) Arm(key string, at time.Time, fn func()) {
	w.mu.Lock()
	w.armed[key] = armedEntry{at: at, fn: fn}
	w.mu.Unlock()
}

func (w *fakeWaker) Cancel(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.armed[key]
	delete(w.armed, key)
	return ok
}

func (w *fakeWaker) fire(t *testing.T, key string) {
	t.Helper()
	w.mu.Lock()
	e, ok := w.armed[key]
	delete(w.armed, key)
	w.mu.Unlock()
	if !ok {
		t.Fatalf("no armed wake-up for %q", key)
	}
	e.fn()
}

func (w *fakeWaker) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.armed)
}

type fakeMember struct {
	mu       sync.Mutex
	roles    map[string]bool
	revoked  []string
	notified []string

	revokeErr error
	notifyErr error
}

func (m *fakeMember) HasRole(role string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roles[role]
}

func (m *fakeMember) GrantRole(ctx context.Context, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[role] = true
	return nil
}

func (m *fakeMember) RevokeRole(ctx context.Context, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revokeErr != nil {
		return m.revokeErr
	}
	delete(m.roles, role)
	m.revoked = append(m.revoked, role)
	return nil
}

func (m *fakeMember) Notify(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notifyErr != nil {
		return m.notifyErr
	}
	m.notified = append(m.notified, text)
	return nil
}

type fakeDirectory struct {
	mu      sync.Mutex
	members map[int64]*fakeMember
	err     error
}

func (d *fakeDirectory) Member(ctx context.Context, chatID, userID int64) (directory.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	m, ok := d.members[userID]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return m, nil
}

func testService(t *testing.T) (*Service, *storage.Store, *fakeDirectory, *fakeWaker) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	dir := &fakeDirectory{members: map[int64]*fakeMember{}}
	wake := newFakeWaker()
	return New(st, dir, wake, logx.Nop()), st, dir, wake
}

func TestStartReplacesExistingTimer(t *testing.T) {
	svc, st, _, wake := testService(t)
	ctx := context.Background()

	if _, err := svc.Start(ctx, 7, 42, "focus", 30); err != nil {
		t.Fatalf("Start: %v", err)
	}
	exp2, err := svc.Start(ctx, 7, 42, "focus", 120)
	if err != nil {
		t.Fatalf("Start (replace): %v", err)
	}

	all, err := st.ListRoleTimers(ctx)
	if err != nil {
		t.Fatalf("ListRoleTimers: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one row per key, got %d", len(all))
	}
	if all[0].ExpiresAt.UnixMilli() != exp2.UnixMilli() {
		t.Fatalf("expires_at = %v, want %v (last write wins)", all[0].ExpiresAt, exp2)
	}
	if wake.count() != 1 {
		t.Fatalf("expected exactly one armed wake-up, got %d", wake.count())
	}
}

func TestStartRejectsBadDuration(t *testing.T) {
	svc, st, _, wake := testService(t)

	if _, err := svc.Start(context.Background(), 7, 42, "focus", 0); !errors.Is(err, ErrBadDuration) {
		t.Fatalf("expected ErrBadDuration, got %v", err)
	}
	if all, _ := st.ListRoleTimers(context.Background()); len(all) != 0 {
		t.Fatalf("nothing should be persisted on validation failure")
	}
	if wake.count() != 0 {
		t.Fatalf("nothing should be armed on validation failure")
	}
}

func TestCancelIdempotent(t *testing.T) {
	svc, _, _, _ := testService(t)
	ctx := context.Background()

	if _, err := svc.Start(ctx, 7, 42, "focus", 30); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ok, err := svc.Cancel(ctx, 7, 42); err != nil || !ok {
		t.Fatalf("first Cancel = (%v, %v), want (true, nil)", ok, err)
	}
	if ok, err := svc.Cancel(ctx, 7, 42); err != nil || ok {
		t.Fatalf("second Cancel = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestRemainingIsStoreBacked(t *testing.T) {
	svc, _, _, _ := testService(t)
	ctx := context.Background()

	if rem, err := svc.Remaining(ctx, 7, 42); err != nil || rem != 0 {
		t.Fatalf("Remaining without timer = (%v, %v), want (0, nil)", rem, err)
	}

	if _, err := svc.Start(ctx, 7, 42, "focus", 30); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rem, err := svc.Remaining(ctx, 7, 42)
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if rem <= 29*time.Minute || rem > 30*time.Minute {
		t.Fatalf("Remaining = %v, want ~30m", rem)
	}
}

func TestDischargeRevokesAndDeletes(t *testing.T) {
	svc, st, dir, wake := testService(t)
	ctx := context.Background()

	m := &fakeMember{roles: map[string]bool{"focus": true}}
	dir.members[7] = m

	if _, err := svc.Start(ctx, 7, 42, "focus", 30); err != nil {
		t.Fatalf("Start: %v", err)
	}
	wake.fire(t, timerKey(7, 42))

	if m.HasRole("focus") {
		t.Fatalf("role not revoked on discharge")
	}
	if len(m.notified) != 1 {
		t.Fatalf("expected one expiry notification, got %d", len(m.notified))
	}
	if _, found, _ := st.GetRoleTimer(ctx, 7, 42); found {
		t.Fatalf("row not deleted on discharge")
	}
}

func TestDischargeIdempotent(t *testing.T) {
	svc, st, dir, _ := testService(t)
	ctx := context.Background()

	// Role was already removed out-of-band.
	dir.members[7] = &fakeMember{roles: map[string]bool{}}

	timer := storage.RoleTimer{UserID: 7, ChatID: 42, Role: "focus", ExpiresAt: time.Now(), CreatedAt: time.Now()}
	if err := st.UpsertRoleTimer(ctx, timer); err != nil {
		t.Fatalf("UpsertRoleTimer: %v", err)
	}

	svc.discharge(timer)
	svc.discharge(timer) // re-entrant fire after restart

	if all, _ := st.ListRoleTimers(ctx); len(all) != 0 {
		t.Fatalf("expected zero rows after double discharge, got %d", len(all))
	}
}

func TestDischargeMemberGoneStillDeletesRow(t *testing.T) {
	svc, st, _, _ := testService(t)
	ctx := context.Background()

	timer := storage.RoleTimer{UserID: 99, ChatID: 42, Role: "focus", ExpiresAt: time.Now(), CreatedAt: time.Now()}
	if err := st.UpsertRoleTimer(ctx, timer); err != nil {
		t.Fatalf("UpsertRoleTimer: %v", err)
	}

	svc.discharge(timer) // directory reports not-found

	if _, found, _ := st.GetRoleTimer(ctx, 99, 42); found {
		t.Fatalf("moot obligation should be dropped when member is gone")
	}
}

func TestDischargeRevokeFailureStillDeletesRow(t *testing.T) {
	svc, st, dir, _ := testService(t)
	ctx := context.Background()

	dir.members[7] = &fakeMember{
		roles:     map[string]bool{"focus": true},
		revokeErr: directory.ErrPermissionDenied,
	}

	timer := storage.RoleTimer{UserID: 7, ChatID: 42, Role: "focus", ExpiresAt: time.Now(), CreatedAt: time.Now()}
	if err := st.UpsertRoleTimer(ctx, timer); err != nil {
		t.Fatalf("UpsertRoleTimer: %v", err)
	}

	svc.discharge(timer)

	if _, found, _ := st.GetRoleTimer(ctx, 7, 42); found {
		t.Fatalf("row must be deleted even when revoke fails")
	}
}

func TestDischargeStaleSnapshotIsNoop(t *testing.T) {
	svc, st, dir, _ := testService(t)
	ctx := context.Background()

	m := &fakeMember{roles: map[string]bool{"focus": true}}
	dir.members[7] = m

	// A past-due timer whose expiry was captured by a wake-up...
	now := time.Now()
	stale := storage.RoleTimer{UserID: 7, ChatID: 42, Role: "focus", ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour)}
	if err := st.UpsertRoleTimer(ctx, stale); err != nil {
		t.Fatalf("UpsertRoleTimer: %v", err)
	}

	// ...is replaced by a fresh session before that wake-up runs.
	exp, err := svc.Start(ctx, 7, 42, "focus", 60)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	svc.discharge(stale)

	if !m.HasRole("focus") {
		t.Fatalf("stale discharge revoked the fresh session's role")
	}
	cur, found, err := st.GetRoleTimer(ctx, 7, 42)
	if err != nil || !found {
		t.Fatalf("stale discharge deleted the replacement row (found=%v, %v)", found, err)
	}
	if cur.ExpiresAt.UnixMilli() != exp.UnixMilli() {
		t.Fatalf("replacement row mutated: %v, want %v", cur.ExpiresAt, exp)
	}
}

func TestInitializeFromStoreRecovery(t *testing.T) {
	svc, st, dir, wake := testService(t)
	ctx := context.Background()

	expired := &fakeMember{roles: map[string]bool{"focus": true}}
	pending := &fakeMember{roles: map[string]bool{"focus": true}}
	dir.members[1] = expired
	dir.members[2] = pending

	now := time.Now()
	if err := st.UpsertRoleTimer(ctx, storage.RoleTimer{UserID: 1, ChatID: 42, Role: "focus", ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour)}); err != nil {
		t.Fatalf("UpsertRoleTimer: %v", err)
	}
	if err := st.UpsertRoleTimer(ctx, storage.RoleTimer{UserID: 2, ChatID: 42, Role: "focus", ExpiresAt: now.Add(10 * time.Minute), CreatedAt: now}); err != nil {
		t.Fatalf("UpsertRoleTimer: %v", err)
	}

	if err := svc.InitializeFromStore(ctx); err != nil {
		t.Fatalf("InitializeFromStore: %v", err)
	}

	// Past-due timer: discharged immediately, row gone, role revoked.
	if expired.HasRole("focus") {
		t.Fatalf("expired timer's role not revoked at bootstrap")
	}
	if _, found, _ := st.GetRoleTimer(ctx, 1, 42); found {
		t.Fatalf("expired timer's row not removed at bootstrap")
	}

	// Future timer: still present, wake-up armed at its expiry.
	if _, found, _ := st.GetRoleTimer(ctx, 2, 42); !found {
		t.Fatalf("pending timer dropped at bootstrap")
	}
	wake.mu.Lock()
	e, armed := wake.armed[timerKey(2, 42)]
	wake.mu.Unlock()
	if !armed {
		t.Fatalf("pending timer has no armed wake-up")
	}
	if d := e.at.Sub(now); d < 9*time.Minute || d > 11*time.Minute {
		t.Fatalf("wake-up armed at %v from now, want ~10m", d)
	}
	if pending.HasRole("focus") != true {
		t.Fatalf("pending member should keep role until expiry")
	}
}
