// Package gate evaluates the layered permission and state checks that
// run between command parsing and plugin dispatch. Every check is
// bypassed for owner actors; every rejection short-circuits the pipeline.
package gate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"wabot/internal/config"
	"wabot/internal/domain"
)

// Messages sent on rejection. A rejection with an empty reply is silent.
const (
	msgBanned      = "You are banned from using this bot."
	msgGroupOnly   = "This bot only works in group chats."
	msgPrivateOnly = "This bot only works in private chat."
	msgOwnerMode   = "The bot is currently in owner-only mode."
	msgNoRental    = "This group has no active rental. Use the rent command to see pricing, or contact the owner."
	msgBuyerGroup  = "This group is for panel purchases only."
	msgReseller    = "That command is reserved for resellers."
	msgNoEnergy    = "You are out of energy. Energy recharges over time, or buy more with the shop commands."
)

// buyerGroupAllow is the command allow-list for groups flagged as buyer
// groups: provisioning and purchase flows only.
var buyerGroupAllow = []string{
	"buypanel", "panelset", "listpanel", "delpanel", "price", "pay", "help", "owner",
}

// Decision is the outcome of the gate chain for one command.
type Decision struct {
	Allow bool
	Gate  string // name of the rejecting check, for logs and metrics
	Reply string // user-visible denial; empty means reject silently
}

func allow() Decision {
	return Decision{Allow: true}
}

func deny(gate, reply string) Decision {
	return Decision{Gate: gate, Reply: reply}
}

// Gate runs the ordered permission chain.
type Gate struct {
	cfg    *config.Config
	store  domain.Store
	logger *slog.Logger
}

func New(cfg *config.Config, store domain.Store, logger *slog.Logger) *Gate {
	return &Gate{cfg: cfg, store: store, logger: logger}
}

// Check evaluates all gates in order for a parsed command. matched is
// the plugin set claiming the token, used for tag-scoped restrictions.
// Store read failures are soft: the affected check passes and the error
// is logged, so a degraded store never blocks the owner-visible pipeline.
func (g *Gate) Check(ctx context.Context, ev *domain.InboundEvent, cmd *domain.CommandMatch, matched []*domain.Plugin, rt *domain.Runtime) Decision {
	if rt.IsOwner(ev.Sender) {
		return allow()
	}

	user, err := g.store.User(ctx, ev.Sender)
	if err != nil {
		g.logger.Warn("gate: user read failed", "sender", ev.Sender, "err", err)
		user = &domain.UserRecord{ID: ev.Sender}
	}

	// 1. Hard ban.
	if user.Banned {
		return deny("ban", msgBanned)
	}

	// 2. Global chat scope and operating mode.
	switch g.cfg.Gate.ChatMode {
	case "group":
		if !ev.IsGroup {
			return deny("chat-mode", msgGroupOnly)
		}
	case "private":
		if ev.IsGroup {
			return deny("chat-mode", msgPrivateOnly)
		}
	}
	if g.cfg.Gate.OperatingMode == "owner" {
		return deny("operating-mode", msgOwnerMode)
	}

	var group *domain.GroupRecord
	if ev.IsGroup {
		group, err = g.store.Group(ctx, ev.Conversation)
		if err != nil {
			g.logger.Warn("gate: group read failed", "group", ev.Conversation, "err", err)
			group = &domain.GroupRecord{ID: ev.Conversation}
		}

		// 3. Group mute: only the unmute command itself is permitted,
		// and the rejection stays silent so a muted group stays quiet.
		if group.Muted && cmd.Command != "unmute" {
			return deny("mute", "")
		}

		// 4. Rental gate.
		if d := g.checkRental(ctx, group, cmd.Command); !d.Allow {
			return d
		}

		// 5. Buyer-group restriction.
		if group.BuyerGroup && !inList(cmd.Command, buyerGroupAllow) {
			return deny("buyer-group", msgBuyerGroup)
		}
	}

	// 5b. Reseller-only commands: permitted only inside groups flagged
	// as reseller groups.
	for _, p := range matched {
		if hasTag(p, "reseller") && (group == nil || !group.ResellerGroup) {
			return deny("reseller", msgReseller)
		}
	}

	// 6. Energy quota.
	if d := g.checkEnergy(ctx, user, cmd.Command); !d.Allow {
		return d
	}

	return allow()
}

// checkRental rejects commands in groups without an active rental once
// the trial window has passed, except the rental allow-list.
func (g *Gate) checkRental(ctx context.Context, group *domain.GroupRecord, cmd string) Decision {
	if !g.cfg.Rental.Enabled {
		return allow()
	}
	if group.Rental.Active {
		return allow()
	}

	// Anchor the trial window at first sight of the group.
	now := time.Now()
	if group.JoinedAt.IsZero() {
		group.JoinedAt = now
		if err := g.store.PutGroup(ctx, group); err != nil {
			g.logger.Warn("gate: trial anchor persist failed", "group", group.ID, "err", err)
		}
	}
	trial := time.Duration(g.cfg.Rental.TrialDays) * 24 * time.Hour
	if now.Sub(group.JoinedAt) <= trial {
		return allow()
	}

	if inList(cmd, g.cfg.Rental.AllowCommands) {
		return allow()
	}
	return deny("rental", msgNoRental)
}

// checkEnergy debits the fixed command cost, rejecting at zero or below
// without debiting further.
func (g *Gate) checkEnergy(ctx context.Context, user *domain.UserRecord, cmd string) Decision {
	if !g.cfg.Energy.Enabled || inList(cmd, g.cfg.Energy.Exempt) {
		return allow()
	}

	// Seed first-seen users with the starting balance.
	if user.UpdatedAt.IsZero() && user.Energy == 0 {
		user.Energy = g.cfg.Energy.Initial
	}

	if user.Energy <= 0 {
		return deny("energy", msgNoEnergy)
	}

	user.Energy -= g.cfg.Energy.Cost
	if err := g.store.PutUser(ctx, user); err != nil {
		g.logger.Warn("gate: energy debit persist failed", "user", user.ID, "err", err)
	}
	return allow()
}

func inList(cmd string, list []string) bool {
	for _, item := range list {
		if strings.EqualFold(cmd, item) {
			return true
		}
	}
	return false
}

func hasTag(p *domain.Plugin, tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
