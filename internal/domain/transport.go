package domain

import "context"

// Member is one participant of a group conversation.
type Member struct {
	ID    string
	Alias string // transport alias id, empty when the transport has none
	Role  string // "member" | "admin" | "superadmin"
}

// OutboundContent is what the runtime asks a transport to deliver.
type OutboundContent struct {
	Text     string
	Media    MediaKind
	MediaRef string
	Caption  string
}

// SendOptions carries optional delivery parameters.
type SendOptions struct {
	QuotedID string
	Mentions []string
}

// Transport is the session layer the runtime consumes: it delivers raw
// events onto the bus and exposes the send/query primitives the pipeline
// needs. The runtime never exposes anything back to it.
type Transport interface {
	Name() string
	Start(ctx context.Context, bus EventBus) error
	Stop() error
	Send(ctx context.Context, conversation string, content OutboundContent, opts *SendOptions) error
	Members(ctx context.Context, conversation string) ([]Member, error)
	Remove(ctx context.Context, conversation, memberID string) error
	React(ctx context.Context, conversation, messageID, emoji string) error
}
