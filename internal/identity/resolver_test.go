package identity

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

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

// fakeTransport serves canned members and counts membership queries.
type fakeTransport struct {
	members    []domain.Member
	membersErr error
	queries    int
}

func (f *fakeTransport) Name() string                                       { return "fake" }
func (f *fakeTransport) Start(context.Context, domain.EventBus) error       { return nil }
func (f *fakeTransport) Stop() error                                        { return nil }
func (f *fakeTransport) Remove(context.Context, string, string) error       { return nil }
func (f *fakeTransport) React(context.Context, string, string, string) error { return nil }
func (f *fakeTransport) Send(context.Context, string, domain.OutboundContent, *domain.SendOptions) error {
	return nil
}
func (f *fakeTransport) Members(context.Context, string) ([]domain.Member, error) {
	f.queries++
	return f.members, f.membersErr
}

func TestResolve_NonAliasPassThrough(t *testing.T) {
	r := NewResolver(testStore(t), &fakeTransport{}, testLogger())

	id := "628111@s.whatsapp.net"
	if got := r.Resolve(context.Background(), "g@g.us", id); got != id {
		t.Fatalf("non-alias id must pass through, got %q", got)
	}
}

func TestResolve_GlobalTableHit(t *testing.T) {
	s := testStore(t)
	tr := &fakeTransport{}
	r := NewResolver(s, tr, testLogger())
	ctx := context.Background()

	if err := s.PutAlias(ctx, "777@lid", "628111@s.whatsapp.net"); err != nil {
		t.Fatal(err)
	}
	if got := r.Resolve(ctx, "", "777@lid"); got != "628111@s.whatsapp.net" {
		t.Fatalf("global table miss: %q", got)
	}
	if tr.queries != 0 {
		t.Fatalf("global hit must not query membership, got %d queries", tr.queries)
	}
}

func TestResolve_MembershipRefresh(t *testing.T) {
	tr := &fakeTransport{members: []domain.Member{
		{ID: "628111@s.whatsapp.net", Alias: "777@lid", Role: "member"},
		{ID: "628222@s.whatsapp.net", Alias: "888@lid", Role: "admin"},
	}}
	r := NewResolver(testStore(t), tr, testLogger())
	ctx := context.Background()

	if got := r.Resolve(ctx, "g@g.us", "888@lid"); got != "628222@s.whatsapp.net" {
		t.Fatalf("refresh lookup failed: %q", got)
	}

	// Second resolve within the freshness window uses the memo.
	r.Resolve(ctx, "g@g.us", "777@lid")
	if tr.queries != 1 {
		t.Fatalf("expected a single membership query, got %d", tr.queries)
	}
}

func TestResolve_QueryFailureFallsBack(t *testing.T) {
	tr := &fakeTransport{membersErr: errors.New("socket closed")}
	r := NewResolver(testStore(t), tr, testLogger())

	got := r.Resolve(context.Background(), "g@g.us", "777@lid")
	if got != "777@lid" {
		t.Fatalf("failed refresh must return the alias unchanged, got %q", got)
	}
}

func TestResolve_UnknownAliasUnchanged(t *testing.T) {
	tr := &fakeTransport{members: []domain.Member{
		{ID: "628111@s.whatsapp.net", Alias: "777@lid"},
	}}
	r := NewResolver(testStore(t), tr, testLogger())

	if got := r.Resolve(context.Background(), "g@g.us", "999@lid"); got != "999@lid" {
		t.Fatalf("unknown alias must pass through, got %q", got)
	}
}
