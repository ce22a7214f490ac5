package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"planman/internal/calendar"
	"planman/internal/storage"
	"planman/pkg/logx"
)

type fakeStore struct {
	mu       sync.Mutex
	users    []storage.UserRecord
	tokens   map[int64]string
	notified map[string]time.Time
	markErr  error
}

func newFakeStore(users ...storage.UserRecord) *fakeStore {
	return &fakeStore{
		users:    users,
		tokens:   map[int64]string{},
		notified: map[string]time.Time{},
	}
}

func (s *fakeStore) GetAll(ctx context.Context) ([]storage.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.UserRecord(nil), s.users...), nil
}

func (s *fakeStore) Get(ctx context.Context, userID int64) (storage.UserRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.UserID == userID {
			return u, true, nil
		}
	}
	return storage.UserRecord{}, false, nil
}

func (s *fakeStore) UpsertToken(ctx context.Context, userID int64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = token
	return nil
}

func (s *fakeStore) SetRemindMinutes(ctx context.Context, userID int64, minutes int) error {
	return nil
}

func (s *fakeStore) MarkNotified(ctx context.Context, key string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	s.notified[key] = until
	return nil
}

func (s *fakeStore) WasNotified(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.notified[key]
	return ok && until.After(time.Now()), nil
}

func (s *fakeStore) Close() error { return nil }

type fakeSource struct {
	mu      sync.Mutex
	events  map[string][]calendar.Event // keyed by token
	errs    map[string]error
	refresh map[string]string
	calls   []string
}

func (f *fakeSource) Upcoming(ctx context.Context, token string) ([]calendar.Event, string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, token)
	evs := f.events[token]
	err := f.errs[token]
	ref := f.refresh[token]
	f.mu.Unlock()
	return evs, ref, err
}

func (f *fakeSource) Past(ctx context.Context, token string) ([]calendar.Event, string, error) {
	return f.Upcoming(ctx, token)
}

func (f *fakeSource) tokensSeen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  map[int64][]string
	fail  map[int64]error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: map[int64][]string{}, fail: map[int64]error{}}
}

func (n *fakeNotifier) Send(ctx context.Context, userID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.fail[userID]; err != nil {
		return err
	}
	n.sent[userID] = append(n.sent[userID], text)
	return nil
}

func (n *fakeNotifier) countFor(userID int64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent[userID])
}

func newTestService(t *testing.T, cfg Config, store storage.Store, src calendar.Source, notif Notifier, now time.Time) *Service {
	t.Helper()
	s := New(cfg, store, src, notif, logx.Nop())
	s.now = func() time.Time { return now }
	return s
}

func TestScanTickSkipsUsersWithoutCredential(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 9, 55, 0, 0, time.UTC)
	store := newFakeStore(
		storage.UserRecord{UserID: 1, RemindMinutes: 15},               // no token
		storage.UserRecord{UserID: 2, RemindMinutes: 15, Token: "tok"}, // scanned
	)
	src := &fakeSource{events: map[string][]calendar.Event{}}
	notif := newFakeNotifier()

	s := newTestService(t, Config{Enabled: true}, store, src, notif, now)
	s.RunScanTick(context.Background())

	seen := src.tokensSeen()
	if len(seen) != 1 || seen[0] != "tok" {
		t.Fatalf("expected only the authorized user's token, got %v", seen)
	}
}

func TestScanTickNotifiesMatchingEvents(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 9, 55, 0, 0, time.UTC)
	store := newFakeStore(storage.UserRecord{UserID: 7, RemindMinutes: 15, Token: "tok"})
	src := &fakeSource{events: map[string][]calendar.Event{
		"tok": {
			// 15 minutes out: inside [13,17]. 18 minutes out: outside.
			{ID: "in", Title: "Standup", Start: now.Add(15 * time.Minute)},
			{ID: "out", Title: "Lunch", Start: now.Add(18 * time.Minute)},
		},
	}}
	notif := newFakeNotifier()

	s := newTestService(t, Config{Enabled: true}, store, src, notif, now)
	s.RunScanTick(context.Background())

	if got := notif.countFor(7); got != 1 {
		t.Fatalf("expected exactly 1 reminder, got %d", got)
	}
}

func TestScanTickIsolatesPerUserFailures(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 9, 55, 0, 0, time.UTC)
	store := newFakeStore(
		storage.UserRecord{UserID: 1, RemindMinutes: 15, Token: "bad"},
		storage.UserRecord{UserID: 2, RemindMinutes: 15, Token: "good"},
	)
	src := &fakeSource{
		events: map[string][]calendar.Event{
			"good": {{ID: "ev", Title: "1:1", Start: now.Add(15 * time.Minute)}},
		},
		errs: map[string]error{
			"bad": errors.New("provider blew up"),
		},
	}
	notif := newFakeNotifier()

	s := newTestService(t, Config{Enabled: true, Workers: 1}, store, src, notif, now)
	s.RunScanTick(context.Background())

	if got := notif.countFor(2); got != 1 {
		t.Fatalf("user 2 should still be notified despite user 1 failing, got %d sends", got)
	}
}

func TestScanTickPersistsRefreshedCredential(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 9, 55, 0, 0, time.UTC)
	store := newFakeStore(storage.UserRecord{UserID: 3, RemindMinutes: 15, Token: "old"})
	src := &fakeSource{
		events:  map[string][]calendar.Event{"old": nil},
		refresh: map[string]string{"old": "new"},
	}

	s := newTestService(t, Config{Enabled: true}, store, src, newFakeNotifier(), now)
	s.RunScanTick(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.tokens[3] != "new" {
		t.Fatalf("refreshed credential not persisted, got %q", store.tokens[3])
	}
}

func TestScanTickDedupWindowSuppressesRepeat(t *testing.T) {
	t.Parallel()
	// Real-clock base: the fake store compares the suppression deadline
	// against the wall clock, same as the SQLite store.
	now := time.Now().UTC()
	store := newFakeStore(storage.UserRecord{UserID: 4, RemindMinutes: 15, Token: "tok"})
	src := &fakeSource{events: map[string][]calendar.Event{
		"tok": {{ID: "ev1", Title: "Standup", Start: now.Add(15 * time.Minute)}},
	}}
	notif := newFakeNotifier()

	s := newTestService(t, Config{Enabled: true, DedupWindow: time.Hour}, store, src, notif, now)
	s.RunScanTick(context.Background())
	s.RunScanTick(context.Background())

	if got := notif.countFor(4); got != 1 {
		t.Fatalf("dedup window active: expected 1 reminder across ticks, got %d", got)
	}
}

func TestScanTickWithoutDedupNotifiesPerTick(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 9, 55, 0, 0, time.UTC)
	store := newFakeStore(storage.UserRecord{UserID: 5, RemindMinutes: 15, Token: "tok"})
	src := &fakeSource{events: map[string][]calendar.Event{
		"tok": {{ID: "ev1", Title: "Standup", Start: now.Add(15 * time.Minute)}},
	}}
	notif := newFakeNotifier()

	// Reference behavior: no suppression, once per qualifying tick.
	s := newTestService(t, Config{Enabled: true}, store, src, notif, now)
	s.RunScanTick(context.Background())
	s.RunScanTick(context.Background())

	if got := notif.countFor(5); got != 2 {
		t.Fatalf("expected one reminder per qualifying tick, got %d", got)
	}
}

func TestScanTickDedupWriteFailureStillNotifies(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	store := newFakeStore(storage.UserRecord{UserID: 6, RemindMinutes: 15, Token: "tok"})
	store.markErr = errors.New("disk full")
	src := &fakeSource{events: map[string][]calendar.Event{
		"tok": {{ID: "ev1", Title: "Standup", Start: now.Add(15 * time.Minute)}},
	}}
	notif := newFakeNotifier()

	// A failed suppression write degrades to the no-dedup behavior rather
	// than losing the reminder.
	s := newTestService(t, Config{Enabled: true, DedupWindow: time.Hour}, store, src, notif, now)
	s.RunScanTick(context.Background())
	s.RunScanTick(context.Background())

	if got := notif.countFor(6); got != 2 {
		t.Fatalf("expected a reminder per tick when dedup writes fail, got %d", got)
	}
}

func TestApplyDuringScanTick(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 9, 55, 0, 0, time.UTC)
	users := make([]storage.UserRecord, 0, 32)
	for i := 0; i < 32; i++ {
		users = append(users, storage.UserRecord{UserID: int64(i + 1), RemindMinutes: 15, Token: "tok"})
	}
	store := newFakeStore(users...)
	src := &fakeSource{events: map[string][]calendar.Event{
		"tok": {{ID: "ev", Title: "Standup", Start: now.Add(15 * time.Minute)}},
	}}
	notif := newFakeNotifier()

	// Reloads land mid-tick in production; the workers must see a coherent
	// config/limiter snapshot. Exercised under -race.
	s := newTestService(t, Config{Enabled: true, Workers: 4, RatePerSec: 1000}, store, src, notif, now)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			s.Apply(Config{Enabled: true, Workers: 4, RatePerSec: 500 + i})
		}
	}()
	for i := 0; i < 5; i++ {
		s.RunScanTick(context.Background())
	}
	<-done
}

func TestScanTickDeliveryFailureDoesNotAbort(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 9, 55, 0, 0, time.UTC)
	store := newFakeStore(
		storage.UserRecord{UserID: 1, RemindMinutes: 15, Token: "a"},
		storage.UserRecord{UserID: 2, RemindMinutes: 15, Token: "b"},
	)
	src := &fakeSource{events: map[string][]calendar.Event{
		"a": {{ID: "e1", Start: now.Add(15 * time.Minute)}},
		"b": {{ID: "e2", Start: now.Add(15 * time.Minute)}},
	}}
	notif := newFakeNotifier()
	notif.fail[1] = errors.New("blocked by user")

	s := newTestService(t, Config{Enabled: true, Workers: 1}, store, src, notif, now)
	s.RunScanTick(context.Background())

	if got := notif.countFor(2); got != 1 {
		t.Fatalf("delivery failure for user 1 must not affect user 2, got %d", got)
	}
}
