package domain

import "time"

// EventKind distinguishes normal messages from transport-level protocol
// events the pipeline has to treat specially.
type EventKind string

const (
	EventMessage    EventKind = "message"
	EventRetraction EventKind = "retraction"
)

// MediaKind classifies the media attached to a message, if any.
type MediaKind string

const (
	MediaNone     MediaKind = ""
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaSticker  MediaKind = "sticker"
	MediaDocument MediaKind = "document"
)

// QuotedRef points at the message an event replies to.
type QuotedRef struct {
	MessageID string
	Sender    string
	Text      string
}

// InboundEvent is one normalized message as delivered by a transport.
// Immutable after construction; never persisted.
type InboundEvent struct {
	Transport    string
	Kind         EventKind
	Conversation string
	MessageID    string
	Sender       string // canonical id, alias-resolved
	RawSender    string // sender id exactly as the transport delivered it
	Text         string
	FromSelf     bool
	IsGroup      bool
	Mentions     []string
	Quoted       *QuotedRef
	Media        MediaKind
	MediaRef     string // transport handle for re-sending the media
	Payload      map[string]any
	RetractedID  string // set on EventRetraction: the id of the deleted message
	Timestamp    time.Time
}

// CachedMessage is the snapshot the message cache keeps for retraction
// recovery. Exclusively owned by the cache.
type CachedMessage struct {
	Conversation string
	MessageID    string
	Sender       string
	Text         string
	Mentions     []string
	Media        MediaKind
	MediaRef     string
	Payload      map[string]any
	InsertedAt   time.Time
}

// CommandMatch is the result of parsing a prefixed command message.
type CommandMatch struct {
	Command   string   // lowercased command token
	Args      []string // whitespace-split arguments
	Remainder string   // args rejoined, verbatim
	Prefix    byte     // the prefix character that matched
}

// EventBus routes inbound events from transports to the dispatch engine.
type EventBus interface {
	Publish(ev InboundEvent)
	Subscribe() <-chan InboundEvent
	Close()
}
