package plugins

import (
	"context"
	"fmt"
	"strings"

	"wabot/internal/domain"
)

// isGroupAdmin checks the sender's role via the transport's membership
// view. Query failures report false so admin-gated toggles fail closed.
func isGroupAdmin(ctx context.Context, ev *domain.InboundEvent, rt *domain.Runtime) bool {
	members, err := rt.Transport.Members(ctx, ev.Conversation)
	if err != nil {
		rt.Logger.Debug("membership query failed", "group", ev.Conversation, "err", err)
		return false
	}
	for _, m := range members {
		if m.ID != ev.Sender && m.Alias != ev.RawSender {
			continue
		}
		if m.Role == "admin" || m.Role == "superadmin" {
			return true
		}
	}
	return false
}

// Mute silences the bot in a group; only unmute and admins get through.
func Mute() *domain.Plugin {
	return &domain.Plugin{
		Name:      "mute",
		Commands:  domain.Exacts("mute", "unmute"),
		Tags:      []string{"group"},
		GroupOnly: true,
		Run: func(ctx context.Context, ev *domain.InboundEvent, cmd *domain.CommandMatch, rt *domain.Runtime) error {
			if !rt.IsOwner(ev.Sender) && !isGroupAdmin(ctx, ev, rt) {
				return rt.Reply(ctx, ev, "❌ Group admins only.")
			}
			group, err := rt.Store.Group(ctx, ev.Conversation)
			if err != nil {
				return fmt.Errorf("read group: %w", err)
			}

			muted := cmd.Command == "mute"
			if group.Muted == muted {
				if muted {
					return rt.Reply(ctx, ev, "🔇 Already muted here.")
				}
				return rt.Reply(ctx, ev, "🔊 Not muted here.")
			}
			group.Muted = muted
			if err := rt.Store.PutGroup(ctx, group); err != nil {
				return fmt.Errorf("persist group: %w", err)
			}
			if muted {
				return rt.Reply(ctx, ev, "🔇 Bot muted in this group. Use unmute to restore.")
			}
			return rt.Reply(ctx, ev, "🔊 Bot unmuted.")
		},
	}
}

// antimediaFlags maps toggle commands onto the group record.
var antimediaFlags = map[string]struct {
	label string
	get   func(g *domain.GroupRecord) bool
	set   func(g *domain.GroupRecord, v bool)
}{
	"antisticker": {"Anti Sticker", func(g *domain.GroupRecord) bool { return g.AntiSticker }, func(g *domain.GroupRecord, v bool) { g.AntiSticker = v }},
	"antiimage":   {"Anti Image", func(g *domain.GroupRecord) bool { return g.AntiImage }, func(g *domain.GroupRecord, v bool) { g.AntiImage = v }},
	"antifoto":    {"Anti Image", func(g *domain.GroupRecord) bool { return g.AntiImage }, func(g *domain.GroupRecord, v bool) { g.AntiImage = v }},
	"antivideo":   {"Anti Video", func(g *domain.GroupRecord) bool { return g.AntiVideo }, func(g *domain.GroupRecord, v bool) { g.AntiVideo = v }},
	"antiaudio":   {"Anti Audio", func(g *domain.GroupRecord) bool { return g.AntiAudio }, func(g *domain.GroupRecord, v bool) { g.AntiAudio = v }},
	"antivn":      {"Anti Audio", func(g *domain.GroupRecord) bool { return g.AntiAudio }, func(g *domain.GroupRecord, v bool) { g.AntiAudio = v }},
}

// AntiMedia provides the per-group media restriction toggles plus the
// middleware that warns senders when a restricted media kind appears.
// Admins and owners are exempt from the restriction.
func AntiMedia() *domain.Plugin {
	return &domain.Plugin{
		Name:      "antimedia",
		Commands:  domain.Exacts("antisticker", "antiimage", "antifoto", "antivideo", "antiaudio", "antivn"),
		Tags:      []string{"group"},
		GroupOnly: true,
		Run: func(ctx context.Context, ev *domain.InboundEvent, cmd *domain.CommandMatch, rt *domain.Runtime) error {
			if !rt.IsOwner(ev.Sender) && !isGroupAdmin(ctx, ev, rt) {
				return rt.Reply(ctx, ev, "❌ Group admins only.")
			}
			flag, ok := antimediaFlags[cmd.Command]
			if !ok {
				return nil
			}
			group, err := rt.Store.Group(ctx, ev.Conversation)
			if err != nil {
				return fmt.Errorf("read group: %w", err)
			}

			var arg string
			if len(cmd.Args) > 0 {
				arg = strings.ToLower(cmd.Args[0])
			}
			switch arg {
			case "on", "1", "enable":
				flag.set(group, true)
			case "off", "0", "disable":
				flag.set(group, false)
			default:
				state := "OFF"
				if flag.get(group) {
					state = "ON"
				}
				return rt.Reply(ctx, ev, fmt.Sprintf("%s: *%s*\nUsage: %c%s on/off", flag.label, state, cmd.Prefix, cmd.Command))
			}

			if err := rt.Store.PutGroup(ctx, group); err != nil {
				return fmt.Errorf("persist group: %w", err)
			}
			state := "OFF"
			if flag.get(group) {
				state = "ON"
			}
			return rt.Reply(ctx, ev, fmt.Sprintf("✅ %s: *%s*", flag.label, state))
		},

		Middleware: func(ctx context.Context, ev *domain.InboundEvent, rt *domain.Runtime) error {
			if !ev.IsGroup || ev.FromSelf || ev.Media == domain.MediaNone {
				return nil
			}
			group, err := rt.Store.Group(ctx, ev.Conversation)
			if err != nil {
				return fmt.Errorf("read group: %w", err)
			}

			var label string
			switch {
			case group.AntiSticker && ev.Media == domain.MediaSticker:
				label = "stickers"
			case group.AntiImage && ev.Media == domain.MediaImage:
				label = "images"
			case group.AntiVideo && ev.Media == domain.MediaVideo:
				label = "videos"
			case group.AntiAudio && ev.Media == domain.MediaAudio:
				label = "audio"
			default:
				return nil
			}

			if rt.IsOwner(ev.Sender) || isGroupAdmin(ctx, ev, rt) {
				return nil
			}

			mention := ev.Sender
			if i := strings.IndexByte(mention, '@'); i > 0 {
				mention = mention[:i]
			}
			return rt.Transport.Send(ctx, ev.Conversation,
				domain.OutboundContent{Text: fmt.Sprintf("🚫 @%s, %s are not allowed in this group.", mention, label)},
				&domain.SendOptions{Mentions: []string{ev.Sender}, QuotedID: ev.MessageID})
		},
	}
}
