package plugins

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wabot/internal/domain"
	"wabot/internal/plugin"
	"wabot/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeTransport struct {
	sent    []string
	members []domain.Member
}

func (f *fakeTransport) Name() string                                         { return "fake" }
func (f *fakeTransport) Start(ctx context.Context, bus domain.EventBus) error { return nil }
func (f *fakeTransport) Stop() error                                          { return nil }

func (f *fakeTransport) Send(ctx context.Context, conversation string, content domain.OutboundContent, opts *domain.SendOptions) error {
	f.sent = append(f.sent, content.Text)
	return nil
}

func (f *fakeTransport) Members(ctx context.Context, conversation string) ([]domain.Member, error) {
	return f.members, nil
}

func (f *fakeTransport) Remove(ctx context.Context, conversation, memberID string) error { return nil }
func (f *fakeTransport) React(ctx context.Context, conversation, messageID, emoji string) error {
	return nil
}

func (f *fakeTransport) lastSent(t *testing.T) string {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("expected a reply")
	}
	return f.sent[len(f.sent)-1]
}

func testRuntime(t *testing.T) (*domain.Runtime, *fakeTransport) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	tr := &fakeTransport{}
	return &domain.Runtime{
		Transport: tr,
		Store:     s,
		Logger:    testLogger(),
		Owners:    []string{"628999"},
		Prefixes:  ".!#",
	}, tr
}

func groupEvent(sender string) *domain.InboundEvent {
	return &domain.InboundEvent{
		Kind:         domain.EventMessage,
		Conversation: "g@g.us",
		MessageID:    "m1",
		Sender:       sender,
		IsGroup:      true,
	}
}

func TestHelp_HidesOwnerOnlyFromRegularUsers(t *testing.T) {
	rt, tr := testRuntime(t)
	reg := plugin.NewRegistry(testLogger())
	help := Help(reg)
	secret := &domain.Plugin{
		Name: "secret", Commands: domain.Exacts("secret"), OwnerOnly: true,
		Run: func(ctx context.Context, ev *domain.InboundEvent, cmd *domain.CommandMatch, rt *domain.Runtime) error {
			return nil
		},
	}
	if err := reg.Register(help, Owner(), secret); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	cmd := &domain.CommandMatch{Command: "help", Prefix: '.'}

	if err := help.Run(ctx, groupEvent("628111@s.whatsapp.net"), cmd, rt); err != nil {
		t.Fatal(err)
	}
	menu := tr.lastSent(t)
	if !strings.Contains(menu, ".owner") || !strings.Contains(menu, ".help") {
		t.Fatalf("menu missing public commands: %q", menu)
	}
	if strings.Contains(menu, "secret") {
		t.Fatalf("owner-only command leaked to regular user: %q", menu)
	}

	if err := help.Run(ctx, groupEvent("628999@s.whatsapp.net"), cmd, rt); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tr.lastSent(t), "secret") {
		t.Fatal("owner should see owner-only commands")
	}
}

func TestEnergy_ReportsBalance(t *testing.T) {
	rt, tr := testRuntime(t)
	ctx := context.Background()
	p := Energy()

	if err := rt.Store.PutUser(ctx, &domain.UserRecord{ID: "628111@s.whatsapp.net", Energy: 42}); err != nil {
		t.Fatal(err)
	}
	if err := p.Run(ctx, groupEvent("628111@s.whatsapp.net"), &domain.CommandMatch{Command: "energy"}, rt); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tr.lastSent(t), "42") {
		t.Fatalf("expected the balance in the reply, got %q", tr.lastSent(t))
	}

	if err := p.Run(ctx, groupEvent("628999@s.whatsapp.net"), &domain.CommandMatch{Command: "energy"}, rt); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tr.lastSent(t), "unlimited") {
		t.Fatal("owner balance should read unlimited")
	}
}

func TestRentalStatus(t *testing.T) {
	rt, tr := testRuntime(t)
	ctx := context.Background()
	p := RentalStatus()
	cmd := &domain.CommandMatch{Command: "rentalstatus"}

	if err := p.Run(ctx, groupEvent("628111@s.whatsapp.net"), cmd, rt); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tr.lastSent(t), "inactive") {
		t.Fatalf("fresh group should read inactive, got %q", tr.lastSent(t))
	}

	g := &domain.GroupRecord{ID: "g@g.us"}
	g.Rental.Active = true
	g.Rental.EndsAt = time.Now().Add(49 * time.Hour)
	if err := rt.Store.PutGroup(ctx, g); err != nil {
		t.Fatal(err)
	}
	if err := p.Run(ctx, groupEvent("628111@s.whatsapp.net"), cmd, rt); err != nil {
		t.Fatal(err)
	}
	reply := tr.lastSent(t)
	if !strings.Contains(reply, "active") || !strings.Contains(reply, "2 days") {
		t.Fatalf("unexpected rental reply: %q", reply)
	}
}

func TestMute_AdminGated(t *testing.T) {
	rt, tr := testRuntime(t)
	ctx := context.Background()
	p := Mute()
	tr.members = []domain.Member{
		{ID: "admin@s.whatsapp.net", Role: "admin"},
		{ID: "628111@s.whatsapp.net", Role: "member"},
	}

	if err := p.Run(ctx, groupEvent("628111@s.whatsapp.net"), &domain.CommandMatch{Command: "mute"}, rt); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tr.lastSent(t), "admins only") {
		t.Fatal("regular member should be denied")
	}
	g, _ := rt.Store.Group(ctx, "g@g.us")
	if g.Muted {
		t.Fatal("denied mute must not persist")
	}

	if err := p.Run(ctx, groupEvent("admin@s.whatsapp.net"), &domain.CommandMatch{Command: "mute"}, rt); err != nil {
		t.Fatal(err)
	}
	g, _ = rt.Store.Group(ctx, "g@g.us")
	if !g.Muted {
		t.Fatal("admin mute should persist")
	}

	if err := p.Run(ctx, groupEvent("admin@s.whatsapp.net"), &domain.CommandMatch{Command: "unmute"}, rt); err != nil {
		t.Fatal(err)
	}
	g, _ = rt.Store.Group(ctx, "g@g.us")
	if g.Muted {
		t.Fatal("unmute should clear the flag")
	}
}

func TestAntiMedia_ToggleAndStatus(t *testing.T) {
	rt, tr := testRuntime(t)
	ctx := context.Background()
	p := AntiMedia()
	tr.members = []domain.Member{{ID: "admin@s.whatsapp.net", Role: "admin"}}
	ev := groupEvent("admin@s.whatsapp.net")

	if err := p.Run(ctx, ev, &domain.CommandMatch{Command: "antisticker", Args: []string{"on"}, Prefix: '.'}, rt); err != nil {
		t.Fatal(err)
	}
	g, _ := rt.Store.Group(ctx, "g@g.us")
	if !g.AntiSticker {
		t.Fatal("antisticker on should persist")
	}

	// Bare command reports status without changing state.
	if err := p.Run(ctx, ev, &domain.CommandMatch{Command: "antisticker", Prefix: '.'}, rt); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tr.lastSent(t), "ON") {
		t.Fatalf("status should read ON, got %q", tr.lastSent(t))
	}

	if err := p.Run(ctx, ev, &domain.CommandMatch{Command: "antisticker", Args: []string{"off"}, Prefix: '.'}, rt); err != nil {
		t.Fatal(err)
	}
	g, _ = rt.Store.Group(ctx, "g@g.us")
	if g.AntiSticker {
		t.Fatal("antisticker off should persist")
	}
}

func TestAntiMedia_MiddlewareWarnsMembersOnly(t *testing.T) {
	rt, tr := testRuntime(t)
	ctx := context.Background()
	p := AntiMedia()
	tr.members = []domain.Member{
		{ID: "admin@s.whatsapp.net", Role: "admin"},
		{ID: "628111@s.whatsapp.net", Role: "member"},
	}

	g := &domain.GroupRecord{ID: "g@g.us", AntiSticker: true}
	if err := rt.Store.PutGroup(ctx, g); err != nil {
		t.Fatal(err)
	}

	ev := groupEvent("628111@s.whatsapp.net")
	ev.Media = domain.MediaSticker
	if err := p.Middleware(ctx, ev, rt); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tr.lastSent(t), "not allowed") {
		t.Fatalf("member sticker should be warned, got %q", tr.lastSent(t))
	}

	before := len(tr.sent)
	adminEv := groupEvent("admin@s.whatsapp.net")
	adminEv.Media = domain.MediaSticker
	if err := p.Middleware(ctx, adminEv, rt); err != nil {
		t.Fatal(err)
	}
	if len(tr.sent) != before {
		t.Fatal("admin sender is exempt")
	}

	imgEv := groupEvent("628111@s.whatsapp.net")
	imgEv.Media = domain.MediaImage
	if err := p.Middleware(ctx, imgEv, rt); err != nil {
		t.Fatal(err)
	}
	if len(tr.sent) != before {
		t.Fatal("disabled media kind must pass")
	}
}
