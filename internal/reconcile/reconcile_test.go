package reconcile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"wabot/internal/domain"
	"wabot/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testStore(t *testing.T) domain.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type fakeTransport struct {
	mu      sync.Mutex
	sent    []string // conversation + "|" + text
	removed []string // conversation + "|" + memberID
	sendErr error
}

func (f *fakeTransport) Name() string                                        { return "fake" }
func (f *fakeTransport) Start(ctx context.Context, bus domain.EventBus) error { return nil }
func (f *fakeTransport) Stop() error                                         { return nil }

func (f *fakeTransport) Send(ctx context.Context, conversation string, content domain.OutboundContent, opts *domain.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, conversation+"|"+content.Text)
	return nil
}

func (f *fakeTransport) Members(ctx context.Context, conversation string) ([]domain.Member, error) {
	return nil, nil
}

func (f *fakeTransport) Remove(ctx context.Context, conversation, memberID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, conversation+"|"+memberID)
	return nil
}

func (f *fakeTransport) React(ctx context.Context, conversation, messageID, emoji string) error {
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func putRental(t *testing.T, s domain.Store, id string, active bool, endsAt, lastReminder time.Time) {
	t.Helper()
	g := &domain.GroupRecord{ID: id}
	g.Rental.Active = active
	g.Rental.StartedAt = endsAt.Add(-30 * 24 * time.Hour)
	g.Rental.EndsAt = endsAt
	g.Rental.LastReminderAt = lastReminder
	if err := s.PutGroup(context.Background(), g); err != nil {
		t.Fatal(err)
	}
}

func TestRentalLoop_ExpiresAndSchedulesLeave(t *testing.T) {
	s := testStore(t)
	tr := &fakeTransport{}
	sched := NewScheduler(testLogger())
	loop := NewRentalLoop(s, tr, sched, "bot@s.whatsapp.net", testLogger())
	ctx := context.Background()

	now := time.Now()
	putRental(t, s, "g@g.us", true, now.Add(-time.Minute), time.Time{})

	loop.RunOnce(ctx, now)

	g, err := s.Group(ctx, "g@g.us")
	if err != nil {
		t.Fatal(err)
	}
	if g.Rental.Active {
		t.Fatal("rental should be deactivated after expiry")
	}
	if tr.sentCount() != 1 || !strings.Contains(tr.sent[0], "expired") {
		t.Fatalf("expected one expiry notice, got %v", tr.sent)
	}
	if sched.Pending() != 1 {
		t.Fatalf("expected one scheduled forced leave, got %d", sched.Pending())
	}

	// A second pass over the now-inactive record does nothing.
	loop.RunOnce(ctx, now.Add(rentalTick))
	if tr.sentCount() != 1 || sched.Pending() != 1 {
		t.Fatal("expiry handling should be idempotent")
	}
}

func TestRentalLoop_ForcedLeaveRevalidates(t *testing.T) {
	s := testStore(t)
	tr := &fakeTransport{}
	loop := NewRentalLoop(s, tr, NewScheduler(testLogger()), "bot@s.whatsapp.net", testLogger())
	ctx := context.Background()

	// Renewed during the grace hour: the bot stays.
	putRental(t, s, "g@g.us", true, time.Now().Add(24*time.Hour), time.Time{})
	loop.forcedLeave(ctx, "g@g.us")
	if len(tr.removed) != 0 {
		t.Fatal("renewed group should not be left")
	}

	// Still lapsed: farewell then leave.
	putRental(t, s, "g@g.us", false, time.Now().Add(-time.Hour), time.Time{})
	loop.forcedLeave(ctx, "g@g.us")
	if len(tr.removed) != 1 || tr.removed[0] != "g@g.us|bot@s.whatsapp.net" {
		t.Fatalf("expected bot removal from g@g.us, got %v", tr.removed)
	}
	if tr.sentCount() != 1 || !strings.Contains(tr.sent[0], "leaving") {
		t.Fatalf("expected a farewell message, got %v", tr.sent)
	}
}

func TestRentalLoop_ReminderThrottle(t *testing.T) {
	s := testStore(t)
	tr := &fakeTransport{}
	loop := NewRentalLoop(s, tr, NewScheduler(testLogger()), "bot@s.whatsapp.net", testLogger())
	ctx := context.Background()

	now := time.Now()
	putRental(t, s, "g@g.us", true, now.Add(6*time.Hour), time.Time{})

	loop.RunOnce(ctx, now)
	if tr.sentCount() != 1 {
		t.Fatalf("expected first reminder, got %d sends", tr.sentCount())
	}

	// Within the 12h throttle: silent.
	loop.RunOnce(ctx, now.Add(1*time.Hour))
	if tr.sentCount() != 1 {
		t.Fatal("reminder should be throttled inside 12h")
	}
}

func TestRentalLoop_NoReminderOutsideWindow(t *testing.T) {
	s := testStore(t)
	tr := &fakeTransport{}
	loop := NewRentalLoop(s, tr, NewScheduler(testLogger()), "bot@s.whatsapp.net", testLogger())

	now := time.Now()
	putRental(t, s, "g@g.us", true, now.Add(10*24*time.Hour), time.Time{})

	loop.RunOnce(context.Background(), now)
	if tr.sentCount() != 0 {
		t.Fatalf("rental far from expiry should not be reminded, got %v", tr.sent)
	}
}

func TestRentalLoop_ReminderFailureNotPersisted(t *testing.T) {
	s := testStore(t)
	tr := &fakeTransport{sendErr: context.DeadlineExceeded}
	loop := NewRentalLoop(s, tr, NewScheduler(testLogger()), "bot@s.whatsapp.net", testLogger())
	ctx := context.Background()

	now := time.Now()
	putRental(t, s, "g@g.us", true, now.Add(6*time.Hour), time.Time{})
	loop.RunOnce(ctx, now)

	g, err := s.Group(ctx, "g@g.us")
	if err != nil {
		t.Fatal(err)
	}
	if !g.Rental.LastReminderAt.IsZero() {
		t.Fatal("failed reminder must not advance the throttle timestamp")
	}
}

func TestSuspendLoop_GraceWindow(t *testing.T) {
	s := testStore(t)
	loop := NewSuspendLoop(s, testLogger())
	ctx := context.Background()
	now := time.Now()

	recent := &domain.ResourceRecord{ID: "sv1", Owner: "628111", ExpiresAt: now.Add(-10 * 24 * time.Hour)}
	stale := &domain.ResourceRecord{ID: "sv2", Owner: "628222", ExpiresAt: now.Add(-40 * 24 * time.Hour)}
	for _, r := range []*domain.ResourceRecord{recent, stale} {
		if err := s.PutResource(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	loop.RunOnce(ctx, now)

	got, err := s.Resource(ctx, "sv1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Suspended {
		t.Fatal("resource inside the grace window must stay active")
	}

	got, err = s.Resource(ctx, "sv2")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Suspended {
		t.Fatal("resource past the grace window should be suspended")
	}
	if got.SuspendReason == "" || got.SuspendedAt.IsZero() {
		t.Fatal("suspension must record a reason and timestamp")
	}

	// Re-running leaves the already-suspended record untouched.
	before := got.SuspendedAt
	loop.RunOnce(ctx, now.Add(suspendTick))
	got, err = s.Resource(ctx, "sv2")
	if err != nil {
		t.Fatal(err)
	}
	if !got.SuspendedAt.Equal(before) {
		t.Fatal("suspension timestamp must not move on later sweeps")
	}
}

func TestScheduler_RunsDueTasks(t *testing.T) {
	sched := NewScheduler(testLogger())
	var mu sync.Mutex
	fired := 0

	sched.Schedule("due", -time.Second, func(ctx context.Context) {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	sched.Schedule("future", time.Hour, func(ctx context.Context) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	sched.runDue(context.Background(), time.Now())

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := fired
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected exactly the due task to fire, fired=%d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if sched.Pending() != 1 {
		t.Fatalf("future task should remain queued, pending=%d", sched.Pending())
	}
}

func TestScheduler_Cancel(t *testing.T) {
	sched := NewScheduler(testLogger())
	id := sched.Schedule("doomed", -time.Second, func(ctx context.Context) {
		t.Error("cancelled task must not fire")
	})
	sched.Cancel(id)
	sched.runDue(context.Background(), time.Now())
	time.Sleep(50 * time.Millisecond)
	if sched.Pending() != 0 {
		t.Fatal("cancelled task should leave the queue empty")
	}
}
