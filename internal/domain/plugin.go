package domain

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// Matcher decides whether a plugin claims a parsed command token.
type Matcher interface {
	Matches(token string) bool
	String() string
}

// Exact matches a command token case-insensitively.
type Exact string

func (e Exact) Matches(token string) bool { return strings.EqualFold(string(e), token) }
func (e Exact) String() string            { return string(e) }

// Pattern matches a command token against a regular expression.
type Pattern struct {
	Re *regexp.Regexp
}

func (p Pattern) Matches(token string) bool { return p.Re.MatchString(token) }
func (p Pattern) String() string            { return p.Re.String() }

// Exacts is a convenience constructor for a list of exact matchers.
func Exacts(tokens ...string) []Matcher {
	ms := make([]Matcher, 0, len(tokens))
	for _, t := range tokens {
		ms = append(ms, Exact(t))
	}
	return ms
}

// Plugin is one command/middleware unit. The registry is the sole owner
// of the loaded set; descriptors are immutable during a dispatch pass.
type Plugin struct {
	Name        string
	Commands    []Matcher
	Tags        []string
	OwnerOnly   bool
	GroupOnly   bool
	PrivateOnly bool
	Disabled    bool

	// Middleware runs for every non-command event. Optional.
	Middleware func(ctx context.Context, ev *InboundEvent, rt *Runtime) error

	// Run handles a dispatched command. Required for command plugins.
	Run func(ctx context.Context, ev *InboundEvent, cmd *CommandMatch, rt *Runtime) error
}

// Claims reports whether any of the plugin's matchers accept the token.
func (p *Plugin) Claims(token string) bool {
	for _, m := range p.Commands {
		if m.Matches(token) {
			return true
		}
	}
	return false
}

// Runtime is the context object handed to every plugin and pipeline
// stage. Constructed once at process start.
type Runtime struct {
	Transport Transport
	Store     Store
	Logger    *slog.Logger
	Owners    []string
	Prefixes  string
	BotID     string
}

// IsOwner reports whether the given canonical id belongs to an owner.
func (rt *Runtime) IsOwner(id string) bool {
	for _, o := range rt.Owners {
		if o != "" && strings.Contains(id, o) {
			return true
		}
	}
	return false
}

// Reply sends a plain text reply into the event's conversation, quoting
// the triggering message.
func (rt *Runtime) Reply(ctx context.Context, ev *InboundEvent, text string) error {
	return rt.Transport.Send(ctx, ev.Conversation, OutboundContent{Text: text}, &SendOptions{QuotedID: ev.MessageID})
}
