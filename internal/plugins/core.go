// Package plugins holds the built-in command set. Each constructor
// returns a descriptor for the registry; plugin behavior lives entirely
// in the Run/Middleware closures.
package plugins

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"wabot/internal/domain"
	"wabot/internal/plugin"
)

// Help lists every registered command, grouped by plugin tag.
func Help(reg *plugin.Registry) *domain.Plugin {
	return &domain.Plugin{
		Name:     "help",
		Commands: domain.Exacts("help", "menu"),
		Tags:     []string{"core"},
		Run: func(ctx context.Context, ev *domain.InboundEvent, cmd *domain.CommandMatch, rt *domain.Runtime) error {
			byTag := make(map[string][]string)
			for _, p := range reg.All() {
				if p.Disabled || len(p.Commands) == 0 {
					continue
				}
				if p.OwnerOnly && !rt.IsOwner(ev.Sender) {
					continue
				}
				tag := "misc"
				if len(p.Tags) > 0 {
					tag = p.Tags[0]
				}
				for _, m := range p.Commands {
					if _, ok := m.(domain.Exact); ok {
						byTag[tag] = append(byTag[tag], m.String())
					}
				}
			}

			tags := make([]string, 0, len(byTag))
			for tag := range byTag {
				tags = append(tags, tag)
			}
			sort.Strings(tags)

			prefix := "."
			if cmd.Prefix != 0 {
				prefix = string(cmd.Prefix)
			}

			var sb strings.Builder
			sb.WriteString("📋 *Command Menu*\n")
			for _, tag := range tags {
				tokens := byTag[tag]
				sort.Strings(tokens)
				fmt.Fprintf(&sb, "\n*%s*\n", strings.ToUpper(tag))
				for _, tok := range tokens {
					fmt.Fprintf(&sb, "• %s%s\n", prefix, tok)
				}
			}
			return rt.Reply(ctx, ev, strings.TrimRight(sb.String(), "\n"))
		},
	}
}

// Owner shows the owner contact list.
func Owner() *domain.Plugin {
	return &domain.Plugin{
		Name:     "owner",
		Commands: domain.Exacts("owner"),
		Tags:     []string{"core"},
		Run: func(ctx context.Context, ev *domain.InboundEvent, cmd *domain.CommandMatch, rt *domain.Runtime) error {
			if len(rt.Owners) == 0 {
				return rt.Reply(ctx, ev, "No owner configured.")
			}
			var sb strings.Builder
			sb.WriteString("👤 *Bot Owner*\n")
			for _, o := range rt.Owners {
				fmt.Fprintf(&sb, "• wa.me/%s\n", o)
			}
			return rt.Reply(ctx, ev, strings.TrimRight(sb.String(), "\n"))
		},
	}
}

// Energy shows the caller's current energy balance.
func Energy() *domain.Plugin {
	return &domain.Plugin{
		Name:     "energy",
		Commands: domain.Exacts("energy"),
		Tags:     []string{"core"},
		Run: func(ctx context.Context, ev *domain.InboundEvent, cmd *domain.CommandMatch, rt *domain.Runtime) error {
			if rt.IsOwner(ev.Sender) {
				return rt.Reply(ctx, ev, "⚡ Energy: *unlimited* (owner)")
			}
			user, err := rt.Store.User(ctx, ev.Sender)
			if err != nil {
				return fmt.Errorf("read user: %w", err)
			}
			return rt.Reply(ctx, ev, fmt.Sprintf("⚡ Energy: *%d*", user.Energy))
		},
	}
}

// RentalStatus shows the group's rental state and remaining time.
func RentalStatus() *domain.Plugin {
	return &domain.Plugin{
		Name:      "rentalstatus",
		Commands:  domain.Exacts("rentalstatus", "sewa"),
		Tags:      []string{"group"},
		GroupOnly: true,
		Run: func(ctx context.Context, ev *domain.InboundEvent, cmd *domain.CommandMatch, rt *domain.Runtime) error {
			group, err := rt.Store.Group(ctx, ev.Conversation)
			if err != nil {
				return fmt.Errorf("read group: %w", err)
			}
			if !group.Rental.Active {
				return rt.Reply(ctx, ev, "📋 Rental status: *inactive*\nContact the owner to rent the bot for this group.")
			}
			left := time.Until(group.Rental.EndsAt)
			if left < 0 {
				left = 0
			}
			days := int(left.Hours()) / 24
			hours := int(left.Hours()) % 24
			return rt.Reply(ctx, ev, fmt.Sprintf(
				"📋 Rental status: *active*\n⏳ Remaining: %d days %d hours\n📅 Ends: %s",
				days, hours, group.Rental.EndsAt.Format("2006-01-02 15:04")))
		},
	}
}
