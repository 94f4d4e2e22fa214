// Package identity maps transport alias identifiers to canonical account
// identifiers. Resolution is best-effort: it never fails outward, and it
// memoizes per-conversation membership lookups for a short window.
package identity

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"wabot/internal/domain"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	cacheFreshness   = 120 * time.Second
	maxConversations = 256
)

// Resolver resolves alias-typed sender ids to canonical ids.
type Resolver struct {
	store     domain.Store
	transport domain.Transport
	logger    *slog.Logger

	// cache holds alias→canonical maps per conversation, expiring after
	// the freshness window so membership changes are picked up.
	cache *expirable.LRU[string, map[string]string]
}

func NewResolver(store domain.Store, transport domain.Transport, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:     store,
		transport: transport,
		logger:    logger,
		cache:     expirable.NewLRU[string, map[string]string](maxConversations, nil, cacheFreshness),
	}
}

// IsAlias reports whether id is an alias-typed identifier rather than a
// canonical account id.
func IsAlias(id string) bool {
	return strings.HasSuffix(id, "@lid")
}

// Resolve maps an alias id to its canonical id. Non-alias ids pass through
// unchanged. Unresolvable aliases are returned as-is; resolution never
// returns an empty value for a non-empty input.
func (r *Resolver) Resolve(ctx context.Context, conversation, id string) string {
	if id == "" || !IsAlias(id) {
		return id
	}

	// Global alias table first.
	if canonical, err := r.store.Alias(ctx, id); err == nil && canonical != "" {
		return canonical
	}

	if conversation == "" {
		return id
	}

	m, ok := r.cache.Get(conversation)
	if !ok {
		m = r.refresh(ctx, conversation)
		if m == nil {
			// Query failed: treat as a miss, do not poison the cache.
			return id
		}
		r.cache.Add(conversation, m)
	}

	if canonical, ok := m[id]; ok && canonical != "" {
		return canonical
	}
	return id
}

// refresh rebuilds the alias map from a conversation-membership query.
// Returns nil when the query fails.
func (r *Resolver) refresh(ctx context.Context, conversation string) map[string]string {
	members, err := r.transport.Members(ctx, conversation)
	if err != nil {
		r.logger.Debug("membership query failed, alias unresolved",
			"conversation", conversation,
			"err", err,
		)
		return nil
	}

	m := make(map[string]string, len(members))
	for _, member := range members {
		if member.Alias == "" || member.ID == "" {
			continue
		}
		m[member.Alias] = member.ID
		// Feed the global table so future lookups skip the membership query.
		if err := r.store.PutAlias(ctx, member.Alias, member.ID); err != nil {
			r.logger.Debug("alias persist failed", "alias", member.Alias, "err", err)
		}
	}
	return m
}
