// Package moderation escalates per-user warnings on status-mention
// messages in groups, kicking at the warning limit.
package moderation

import (
	"context"
	"fmt"
	"log/slog"

	"wabot/internal/config"
	"wabot/internal/domain"
)

// Outcome reports what the machine did with one event.
type Outcome struct {
	Triggered bool
	Warnings  int // warning count after the event
	Kicked    bool
}

// Machine is the per-user escalating warning counter.
type Machine struct {
	cfg    config.ModerationConfig
	store  domain.Store
	logger *slog.Logger
}

func New(cfg config.ModerationConfig, store domain.Store, logger *slog.Logger) *Machine {
	return &Machine{cfg: cfg, store: store, logger: logger}
}

// Process inspects one group message and applies the warning state
// machine. Bot-self, owner, and group-admin senders are exempt.
func (m *Machine) Process(ctx context.Context, ev *domain.InboundEvent, rt *domain.Runtime) Outcome {
	if !m.cfg.Enabled || ev.Kind != domain.EventMessage || !ev.IsGroup || ev.FromSelf {
		return Outcome{}
	}
	if !HasStatusMention(ev.Payload) {
		return Outcome{}
	}
	if rt.IsOwner(ev.Sender) {
		return Outcome{}
	}
	if m.isAdmin(ctx, ev, rt) {
		return Outcome{}
	}

	user, err := m.store.User(ctx, ev.Sender)
	if err != nil {
		m.logger.Warn("moderation: user read failed", "sender", ev.Sender, "err", err)
		return Outcome{}
	}

	user.Warnings++
	kicked := user.Warnings >= m.cfg.WarnLimit
	warnings := user.Warnings
	if kicked {
		// Counter resets whether or not the removal below succeeds.
		user.Warnings = 0
	}
	if err := m.store.PutUser(ctx, user); err != nil {
		m.logger.Warn("moderation: warning persist failed", "sender", ev.Sender, "err", err)
	}

	if !kicked {
		m.announce(ctx, ev, rt, fmt.Sprintf("⚠️ Status mentions are not allowed here. Warning %d/%d for @%s.",
			warnings, m.cfg.WarnLimit, shortID(ev.Sender)))
		return Outcome{Triggered: true, Warnings: warnings}
	}

	if err := rt.Transport.Remove(ctx, ev.Conversation, ev.Sender); err != nil {
		m.logger.Warn("moderation: removal failed", "sender", ev.Sender, "err", err)
		m.announce(ctx, ev, rt, fmt.Sprintf("@%s reached %d/%d warnings but I could not remove them. Check my admin rights.",
			shortID(ev.Sender), warnings, m.cfg.WarnLimit))
	} else {
		m.announce(ctx, ev, rt, fmt.Sprintf("🚫 @%s reached %d/%d warnings and was removed.",
			shortID(ev.Sender), warnings, m.cfg.WarnLimit))
	}
	return Outcome{Triggered: true, Warnings: 0, Kicked: true}
}

// isAdmin reports whether the sender is a group admin. Membership query
// failures exempt the sender: never escalate on incomplete information.
func (m *Machine) isAdmin(ctx context.Context, ev *domain.InboundEvent, rt *domain.Runtime) bool {
	members, err := rt.Transport.Members(ctx, ev.Conversation)
	if err != nil {
		m.logger.Debug("moderation: membership query failed", "group", ev.Conversation, "err", err)
		return true
	}
	for _, member := range members {
		if member.ID != ev.Sender && member.Alias != ev.RawSender {
			continue
		}
		if member.Role == "admin" || member.Role == "superadmin" {
			return true
		}
	}
	return false
}

func (m *Machine) announce(ctx context.Context, ev *domain.InboundEvent, rt *domain.Runtime, text string) {
	err := rt.Transport.Send(ctx, ev.Conversation,
		domain.OutboundContent{Text: text},
		&domain.SendOptions{Mentions: []string{ev.Sender}})
	if err != nil {
		m.logger.Warn("moderation: announce failed", "group", ev.Conversation, "err", err)
	}
}

func shortID(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == '@' {
			return id[:i]
		}
	}
	return id
}
