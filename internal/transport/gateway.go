// Package transport holds the session-layer adapters: each one feeds
// normalized inbound events onto the bus and exposes the send/query
// primitives the pipeline calls back into.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"wabot/internal/config"
	"wabot/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	gatewayRPCTimeout   = 30 * time.Second
	gatewayWriteTimeout = 10 * time.Second
	gatewayMaxBackoff   = 60 * time.Second
	gatewayDialTimeout  = 15 * time.Second
)

// Gateway connects to the session sidecar over a single WebSocket.
// Inbound event frames become bus events; outbound operations are RPC
// frames correlated by id.
type Gateway struct {
	cfg    config.GatewayConfig
	logger *slog.Logger

	mu      sync.Mutex // guards conn writes
	conn    *websocket.Conn
	bus     domain.EventBus
	botID   string

	pendingMu sync.Mutex
	pending   map[string]chan gwFrame

	stopCh   chan struct{}
	stopOnce sync.Once
}

// gwFrame is the JSON protocol shared with the sidecar.
type gwFrame struct {
	Type   string          `json:"type"` // "event" | "rpc" | "rpc_result" | "hello"
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params map[string]any  `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Event  *gwEvent        `json:"event,omitempty"`
	BotID  string          `json:"botId,omitempty"`
}

// gwEvent mirrors the sidecar's normalized message shape.
type gwEvent struct {
	Kind         string         `json:"kind"`
	Conversation string         `json:"conversation"`
	MessageID    string         `json:"messageId"`
	Sender       string         `json:"sender"`
	Text         string         `json:"text"`
	FromSelf     bool           `json:"fromSelf"`
	IsGroup      bool           `json:"isGroup"`
	Mentions     []string       `json:"mentions,omitempty"`
	Quoted       *gwQuoted      `json:"quoted,omitempty"`
	Media        string         `json:"media,omitempty"`
	MediaRef     string         `json:"mediaRef,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	RetractedID  string         `json:"retractedId,omitempty"`
	TimestampMS  int64          `json:"timestamp"`
}

type gwQuoted struct {
	MessageID string `json:"messageId"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
}

func NewGateway(cfg config.GatewayConfig, logger *slog.Logger) *Gateway {
	return &Gateway{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[string]chan gwFrame),
		stopCh:  make(chan struct{}),
	}
}

func (g *Gateway) Name() string { return "gateway" }

// BotID returns the session's own id as announced by the sidecar hello
// frame. Empty until the first connection completes.
func (g *Gateway) BotID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.botID
}

// Start dials the sidecar and pumps events until ctx is cancelled,
// reconnecting with capped exponential backoff.
func (g *Gateway) Start(ctx context.Context, bus domain.EventBus) error {
	g.bus = bus
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-g.stopCh:
			return nil
		default:
		}

		err := g.connectAndRead(ctx)
		if err == nil {
			return nil
		}
		g.logger.Warn("gateway connection lost, reconnecting", "err", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-g.stopCh:
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > gatewayMaxBackoff {
			backoff = gatewayMaxBackoff
		}
	}
}

func (g *Gateway) connectAndRead(ctx context.Context) error {
	header := http.Header{}
	if g.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+g.cfg.Token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: gatewayDialTimeout}
	conn, _, err := dialer.DialContext(ctx, g.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial sidecar: %w", err)
	}

	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	g.logger.Info("gateway connected", "url", g.cfg.URL)

	// Close the socket when the context dies so ReadJSON unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-g.stopCh:
			conn.Close()
		case <-done:
		}
	}()

	for {
		var f gwFrame
		if err := conn.ReadJSON(&f); err != nil {
			g.failPending(err)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		g.handleFrame(&f)
	}
}

func (g *Gateway) handleFrame(f *gwFrame) {
	switch f.Type {
	case "hello":
		g.mu.Lock()
		g.botID = f.BotID
		g.mu.Unlock()
		g.logger.Info("gateway session ready", "bot_id", f.BotID)

	case "event":
		if f.Event == nil {
			return
		}
		g.bus.Publish(g.toDomain(f.Event))

	case "rpc_result":
		g.pendingMu.Lock()
		ch, ok := g.pending[f.ID]
		delete(g.pending, f.ID)
		g.pendingMu.Unlock()
		if ok {
			ch <- *f
		}

	default:
		g.logger.Debug("gateway frame ignored", "type", f.Type)
	}
}

func (g *Gateway) toDomain(e *gwEvent) domain.InboundEvent {
	ev := domain.InboundEvent{
		Transport:    "gateway",
		Kind:         domain.EventKind(e.Kind),
		Conversation: e.Conversation,
		MessageID:    e.MessageID,
		Sender:       e.Sender,
		RawSender:    e.Sender,
		Text:         e.Text,
		FromSelf:     e.FromSelf,
		IsGroup:      e.IsGroup,
		Mentions:     e.Mentions,
		Media:        domain.MediaKind(e.Media),
		MediaRef:     e.MediaRef,
		Payload:      e.Payload,
		RetractedID:  e.RetractedID,
		Timestamp:    time.UnixMilli(e.TimestampMS),
	}
	if ev.Kind == "" {
		ev.Kind = domain.EventMessage
	}
	if e.Quoted != nil {
		ev.Quoted = &domain.QuotedRef{
			MessageID: e.Quoted.MessageID,
			Sender:    e.Quoted.Sender,
			Text:      e.Quoted.Text,
		}
	}
	return ev
}

// Stop closes the connection. Safe to call multiple times.
func (g *Gateway) Stop() error {
	g.stopOnce.Do(func() {
		close(g.stopCh)
		g.mu.Lock()
		if g.conn != nil {
			g.conn.Close()
		}
		g.mu.Unlock()
	})
	return nil
}

// Send delivers content into a conversation via the sidecar.
func (g *Gateway) Send(ctx context.Context, conversation string, content domain.OutboundContent, opts *domain.SendOptions) error {
	params := map[string]any{
		"conversation": conversation,
	}
	if content.Text != "" {
		params["text"] = content.Text
	}
	if content.Media != domain.MediaNone {
		params["media"] = string(content.Media)
		params["mediaRef"] = content.MediaRef
		params["caption"] = content.Caption
	}
	if opts != nil {
		if opts.QuotedID != "" {
			params["quotedId"] = opts.QuotedID
		}
		if len(opts.Mentions) > 0 {
			params["mentions"] = opts.Mentions
		}
	}
	_, err := g.rpc(ctx, "send", params)
	return err
}

// Members queries the participant list of a group conversation.
func (g *Gateway) Members(ctx context.Context, conversation string) ([]domain.Member, error) {
	result, err := g.rpc(ctx, "members", map[string]any{"conversation": conversation})
	if err != nil {
		return nil, err
	}
	var raw []struct {
		ID    string `json:"id"`
		Alias string `json:"alias"`
		Role  string `json:"role"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}
	members := make([]domain.Member, 0, len(raw))
	for _, m := range raw {
		members = append(members, domain.Member{ID: m.ID, Alias: m.Alias, Role: m.Role})
	}
	return members, nil
}

// Remove kicks a member from a group conversation.
func (g *Gateway) Remove(ctx context.Context, conversation, memberID string) error {
	_, err := g.rpc(ctx, "remove", map[string]any{
		"conversation": conversation,
		"member":       memberID,
	})
	return err
}

// React attaches an emoji reaction to a message.
func (g *Gateway) React(ctx context.Context, conversation, messageID, emoji string) error {
	_, err := g.rpc(ctx, "react", map[string]any{
		"conversation": conversation,
		"messageId":    messageID,
		"emoji":        emoji,
	})
	return err
}

// rpc writes one correlated request frame and waits for its result.
func (g *Gateway) rpc(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan gwFrame, 1)

	g.pendingMu.Lock()
	g.pending[id] = ch
	g.pendingMu.Unlock()
	defer func() {
		g.pendingMu.Lock()
		delete(g.pending, id)
		g.pendingMu.Unlock()
	}()

	if err := g.writeFrame(gwFrame{Type: "rpc", ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(gatewayRPCTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("rpc %s timed out", method)
	case f := <-ch:
		if f.Error != "" {
			return nil, fmt.Errorf("rpc %s: %s", method, f.Error)
		}
		return f.Result, nil
	}
}

func (g *Gateway) writeFrame(f gwFrame) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return fmt.Errorf("gateway not connected")
	}
	g.conn.SetWriteDeadline(time.Now().Add(gatewayWriteTimeout))
	return g.conn.WriteJSON(f)
}

// failPending unblocks every in-flight RPC when the socket drops.
func (g *Gateway) failPending(err error) {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()
	for id, ch := range g.pending {
		ch <- gwFrame{Type: "rpc_result", ID: id, Error: err.Error()}
		delete(g.pending, id)
	}
}
