// Package dispatch is the inbound pipeline: it consumes events from the
// bus and runs them through identity resolution, caching, retraction
// recovery, moderation, command parsing, the permission gate, and
// finally the matched plugins.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"wabot/internal/command"
	"wabot/internal/domain"
	"wabot/internal/gate"
	"wabot/internal/identity"
	"wabot/internal/metrics"
	"wabot/internal/moderation"
	"wabot/internal/msgcache"
	"wabot/internal/plugin"
)

const defaultConcurrency = 3

// Engine wires the pipeline stages together and drains the bus.
type Engine struct {
	bus         domain.EventBus
	resolver    *identity.Resolver
	cache       *msgcache.Cache
	registry    *plugin.Registry
	gate        *gate.Gate
	moderation  *moderation.Machine
	rt          *domain.Runtime
	logger      *slog.Logger
	concurrency int
}

// EngineConfig holds the pipeline collaborators.
type EngineConfig struct {
	Bus         domain.EventBus
	Resolver    *identity.Resolver
	Cache       *msgcache.Cache
	Registry    *plugin.Registry
	Gate        *gate.Gate
	Moderation  *moderation.Machine
	Runtime     *domain.Runtime
	Logger      *slog.Logger
	Concurrency int
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Engine{
		bus:         cfg.Bus,
		resolver:    cfg.Resolver,
		cache:       cfg.Cache,
		registry:    cfg.Registry,
		gate:        cfg.Gate,
		moderation:  cfg.Moderation,
		rt:          cfg.Runtime,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
	}
}

// Run consumes inbound events with bounded concurrency until ctx is
// cancelled or the bus closes.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("dispatch engine started", "concurrency", e.concurrency)

	sem := make(chan struct{}, e.concurrency)
	inbound := e.bus.Subscribe()
	metrics.ActiveSubscribers.Inc()
	defer metrics.ActiveSubscribers.Dec()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("dispatch engine stopping")
			return
		case ev, ok := <-inbound:
			if !ok {
				e.logger.Info("inbound channel closed, dispatch engine stopping")
				return
			}
			sem <- struct{}{}
			go func(ev domain.InboundEvent) {
				defer func() { <-sem }()
				e.Process(ctx, &ev)
			}(ev)
		}
	}
}

// Process runs one event through the full pipeline. Exported so direct
// callers (tests, CLI probes) can inject events without the bus.
func (e *Engine) Process(ctx context.Context, ev *domain.InboundEvent) {
	start := time.Now()
	metrics.EventsTotal.Inc()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in event pipeline", "panic", r, "conversation", ev.Conversation)
		}
		metrics.DispatchLatency.Observe(time.Since(start).Seconds())
	}()

	// Alias resolution first: everything downstream keys on canonical ids.
	if ev.RawSender == "" {
		ev.RawSender = ev.Sender
	}
	ev.Sender = e.resolver.Resolve(ctx, ev.Conversation, ev.RawSender)

	if ev.Kind == domain.EventRetraction {
		e.handleRetraction(ctx, ev)
		return
	}

	e.cache.Put(ev)

	if outcome := e.moderation.Process(ctx, ev, e.rt); outcome.Triggered {
		if outcome.Kicked {
			metrics.ModerationKicks.Inc()
		}
		return
	}

	if ev.FromSelf {
		return
	}

	cmd := command.Parse(ev.Text, e.rt.Prefixes)
	if cmd == nil {
		e.runMiddlewares(ctx, ev)
		return
	}
	e.dispatchCommand(ctx, ev, cmd)
}

// handleRetraction republishes a deleted message from the cache with an
// attribution header. Delete-once: a second retraction of the same id
// is a no-op.
func (e *Engine) handleRetraction(ctx context.Context, ev *domain.InboundEvent) {
	metrics.Retractions.Inc()
	if ev.RetractedID == "" || ev.FromSelf {
		return
	}

	cached := e.cache.Get(ev.Conversation, ev.RetractedID)
	if cached == nil || !e.cache.Delete(ev.Conversation, ev.RetractedID) {
		metrics.CacheMisses.Inc()
		e.logger.Debug("retracted message not cached", "conversation", ev.Conversation, "id", ev.RetractedID)
		return
	}
	metrics.CacheHits.Inc()

	header := fmt.Sprintf("🗑️ Anti-delete: @%s removed this message:", shortID(cached.Sender))
	opts := &domain.SendOptions{Mentions: []string{cached.Sender}}
	if ev.Sender != "" && ev.Sender != cached.Sender {
		// Deleted by someone other than the author (e.g. a group admin).
		header = fmt.Sprintf("🗑️ Anti-delete: @%s removed a message from @%s:", shortID(ev.Sender), shortID(cached.Sender))
		opts.Mentions = []string{ev.Sender, cached.Sender}
	}

	content := domain.OutboundContent{}
	switch {
	case cached.Media != domain.MediaNone && cached.MediaRef != "":
		content.Media = cached.Media
		content.MediaRef = cached.MediaRef
		content.Caption = header
		if cached.Text != "" {
			content.Caption = header + "\n" + cached.Text
		}
	case cached.Text != "":
		content.Text = header + "\n" + cached.Text
	default:
		content.Text = header + "\n(no recoverable content)"
	}

	if err := e.rt.Transport.Send(ctx, ev.Conversation, content, opts); err != nil {
		e.logger.Error("republishing retracted message failed", "conversation", ev.Conversation, "id", ev.RetractedID, "error", err)
		return
	}
	e.logger.Info("retracted message republished", "conversation", ev.Conversation, "id", ev.RetractedID, "sender", cached.Sender)
}

// dispatchCommand routes a parsed command through the gate and into
// every plugin that claims the token, in registration order.
func (e *Engine) dispatchCommand(ctx context.Context, ev *domain.InboundEvent, cmd *domain.CommandMatch) {
	matched := e.registry.Match(cmd.Command)

	runnable := matched[:0:0]
	for _, p := range matched {
		if e.skip(p, ev) {
			continue
		}
		runnable = append(runnable, p)
	}

	if len(runnable) == 0 {
		if len(matched) == 0 {
			e.suggest(ctx, ev, cmd)
		}
		return
	}

	decision := e.gate.Check(ctx, ev, cmd, runnable, e.rt)
	if !decision.Allow {
		metrics.GateRejections.Inc()
		e.logger.Info("command rejected", "gate", decision.Gate, "command", cmd.Command, "sender", ev.Sender)
		if decision.Reply != "" {
			if err := e.rt.Reply(ctx, ev, decision.Reply); err != nil {
				e.logger.Warn("gate rejection reply failed", "error", err)
			}
		}
		return
	}

	failed := false
	for _, p := range runnable {
		metrics.CommandsDispatched.Inc()
		if err := p.Run(ctx, ev, cmd, e.rt); err != nil {
			failed = true
			metrics.CommandErrors.Inc()
			e.logger.Error("plugin failed", "plugin", p.Name, "command", cmd.Command, "error", err)
			if rerr := e.rt.Reply(ctx, ev, "⚠️ Something went wrong running that command. Try again later."); rerr != nil {
				e.logger.Warn("failure reply failed", "error", rerr)
			}
		}
	}

	// Acknowledgment reaction on the triggering message. Best effort;
	// transports without reactions treat it as a no-op.
	if !failed && ev.MessageID != "" {
		if err := e.rt.Transport.React(ctx, ev.Conversation, ev.MessageID, "✅"); err != nil {
			e.logger.Debug("ack reaction failed", "error", err)
		}
	}
}

// skip filters plugins whose audience constraints the event fails.
// OwnerOnly mismatches are silent here; the gate handles visible ones.
func (e *Engine) skip(p *domain.Plugin, ev *domain.InboundEvent) bool {
	switch {
	case p.Disabled:
		return true
	case p.OwnerOnly && !e.rt.IsOwner(ev.Sender):
		return true
	case p.GroupOnly && !ev.IsGroup:
		return true
	case p.PrivateOnly && ev.IsGroup:
		return true
	}
	return false
}

// suggest replies with near-miss commands for an unrecognized token.
func (e *Engine) suggest(ctx context.Context, ev *domain.InboundEvent, cmd *domain.CommandMatch) {
	suggestions := command.Suggest(cmd.Command, e.registry.CommandTokens())
	if len(suggestions) == 0 {
		return
	}
	metrics.SuggestionsSent.Inc()

	var sb strings.Builder
	fmt.Fprintf(&sb, "❓ Unknown command *%s*. Did you mean:\n", cmd.Command)
	for _, s := range suggestions {
		fmt.Fprintf(&sb, "• %c%s\n", cmd.Prefix, s.Command)
	}
	if err := e.rt.Reply(ctx, ev, strings.TrimRight(sb.String(), "\n")); err != nil {
		e.logger.Warn("suggestion reply failed", "error", err)
	}
}

// runMiddlewares passes a non-command message through every registered
// middleware. Errors are logged and never surface to the chat.
func (e *Engine) runMiddlewares(ctx context.Context, ev *domain.InboundEvent) {
	for _, p := range e.registry.Middlewares() {
		if p.Disabled {
			continue
		}
		if err := p.Middleware(ctx, ev, e.rt); err != nil {
			metrics.MiddlewareErrors.Inc()
			e.logger.Error("middleware failed", "plugin", p.Name, "error", err)
		}
	}
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '@'); i > 0 {
		return id[:i]
	}
	return id
}
