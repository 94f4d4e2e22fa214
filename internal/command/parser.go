// Package command parses prefixed command messages and proposes
// corrections for unknown command tokens.
package command

import (
	"strings"

	"wabot/internal/domain"
)

// Parse splits raw text into a command match given a set of
// single-character prefixes. Returns nil when the text is not a command.
func Parse(text, prefixes string) *domain.CommandMatch {
	text = strings.TrimSpace(text)
	if len(text) < 2 {
		return nil
	}
	prefix := text[0]
	if !strings.ContainsRune(prefixes, rune(prefix)) {
		return nil
	}

	parts := strings.Fields(text[1:])
	if len(parts) == 0 {
		return nil
	}

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	return &domain.CommandMatch{
		Command:   strings.ToLower(parts[0]),
		Args:      args,
		Remainder: strings.Join(args, " "),
		Prefix:    prefix,
	}
}
