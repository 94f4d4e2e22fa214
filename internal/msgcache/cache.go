// Package msgcache keeps a bounded, TTL-evicted snapshot of recently seen
// group messages so retracted content can be recovered and republished.
package msgcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"wabot/internal/domain"
)

const (
	defaultTTL        = 5 * time.Minute
	defaultMaxEntries = 500
	sweepInterval     = 60 * time.Second
)

type entry struct {
	msg *domain.CachedMessage
	seq uint64 // insertion order, for oldest-first eviction
}

// Cache is a concurrent-safe message snapshot store keyed by
// (conversation, message id). It exclusively owns its entries.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextSeq uint64
	logger  *slog.Logger

	ttl        time.Duration
	maxEntries int
}

func New(logger *slog.Logger) *Cache {
	return &Cache{
		entries:    make(map[string]*entry),
		logger:     logger,
		ttl:        defaultTTL,
		maxEntries: defaultMaxEntries,
	}
}

func key(conversation, messageID string) string {
	return conversation + "|" + messageID
}

// Put snapshots a message. Direct messages and self-sent messages are
// never cached; they are not subject to retraction recovery. Returns
// whether the message was stored.
func (c *Cache) Put(ev *domain.InboundEvent) bool {
	if ev.Kind != domain.EventMessage || !ev.IsGroup || ev.FromSelf || ev.MessageID == "" {
		return false
	}

	snapshot := &domain.CachedMessage{
		Conversation: ev.Conversation,
		MessageID:    ev.MessageID,
		Sender:       ev.Sender,
		Text:         ev.Text,
		Mentions:     append([]string(nil), ev.Mentions...),
		Media:        ev.Media,
		MediaRef:     ev.MediaRef,
		Payload:      ev.Payload,
		InsertedAt:   time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSeq++
	c.entries[key(ev.Conversation, ev.MessageID)] = &entry{msg: snapshot, seq: c.nextSeq}
	if len(c.entries) > c.maxEntries {
		c.evictOldestLocked()
	}
	return true
}

// Get returns the cached snapshot, or nil when absent.
func (c *Cache) Get(conversation, messageID string) *domain.CachedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key(conversation, messageID)]; ok {
		return e.msg
	}
	return nil
}

// Delete removes an entry and reports whether it was present. The
// retraction handler relies on this to republish exactly once.
func (c *Cache) Delete(conversation, messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(conversation, messageID)
	if _, ok := c.entries[k]; !ok {
		return false
	}
	delete(c.entries, k)
	return true
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Start runs the periodic TTL sweep until ctx is cancelled.
func (c *Cache) Start(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := c.Sweep(now); removed > 0 {
				c.logger.Debug("message cache sweep", "removed", removed, "remaining", c.Len())
			}
		}
	}
}

// Sweep removes entries older than the TTL and returns how many were removed.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.msg.InsertedAt) > c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// evictOldestLocked drops the single oldest-inserted entry. Called with
// c.mu held; the map never exceeds maxEntries+1, so the scan is bounded.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestSeq uint64
	for k, e := range c.entries {
		if oldestKey == "" || e.seq < oldestSeq {
			oldestKey = k
			oldestSeq = e.seq
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
