// Package plugin holds the loaded command/middleware units and answers
// matching queries for the dispatcher.
package plugin

import (
	"fmt"
	"log/slog"
	"sync"

	"wabot/internal/domain"
)

// Registry owns the loaded plugin set. The set is immutable during a
// dispatch pass; Register replaces are only expected at startup or on an
// explicit reload.
type Registry struct {
	mu      sync.RWMutex
	plugins []*domain.Plugin
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register appends plugins in declaration order. Names must be unique
// and command plugins must carry a Run handler.
func (r *Registry) Register(plugins ...*domain.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make(map[string]bool, len(r.plugins))
	for _, p := range r.plugins {
		names[p.Name] = true
	}

	for _, p := range plugins {
		if p.Name == "" {
			return fmt.Errorf("plugin with empty name")
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate plugin name %q", p.Name)
		}
		if len(p.Commands) > 0 && p.Run == nil {
			return fmt.Errorf("plugin %q declares commands but has no run handler", p.Name)
		}
		if len(p.Commands) == 0 && p.Middleware == nil {
			return fmt.Errorf("plugin %q has neither commands nor middleware", p.Name)
		}
		names[p.Name] = true
		r.plugins = append(r.plugins, p)
		r.logger.Debug("plugin registered", "name", p.Name, "commands", len(p.Commands))
	}
	return nil
}

// All returns the plugins in registration order.
func (r *Registry) All() []*domain.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*domain.Plugin(nil), r.plugins...)
}

// Match returns every plugin claiming the command token, in registration
// order. Multiple plugins may legitimately share a token.
func (r *Registry) Match(token string) []*domain.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*domain.Plugin
	for _, p := range r.plugins {
		if p.Claims(token) {
			matched = append(matched, p)
		}
	}
	return matched
}

// Middlewares returns the plugins that carry a middleware hook, in
// registration order.
func (r *Registry) Middlewares() []*domain.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var mws []*domain.Plugin
	for _, p := range r.plugins {
		if p.Middleware != nil {
			mws = append(mws, p)
		}
	}
	return mws
}

// CommandTokens returns every exact command token declared across the
// loaded set. Pattern matchers have no literal token and are skipped.
// Used by the corrector as its candidate pool.
func (r *Registry) CommandTokens() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tokens []string
	for _, p := range r.plugins {
		if p.Disabled {
			continue
		}
		for _, m := range p.Commands {
			if e, ok := m.(domain.Exact); ok {
				tokens = append(tokens, string(e))
			}
		}
	}
	return tokens
}

// Known reports whether any enabled plugin claims the token.
func (r *Registry) Known(token string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if !p.Disabled && p.Claims(token) {
			return true
		}
	}
	return false
}
