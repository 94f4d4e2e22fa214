package moderation

// statusMentionKey is the payload indicator for a status-mention message,
// the content pattern the moderation machine escalates on.
const statusMentionKey = "groupStatusMentionMessage"

// maxDepth bounds the structural walk so pathological payloads cannot
// recurse without limit.
const maxDepth = 7

// HasStatusMention searches a raw message payload for the status-mention
// indicator, descending through nested maps and lists up to maxDepth.
func HasStatusMention(payload map[string]any) bool {
	return walk(payload, 0)
}

func walk(value any, depth int) bool {
	if depth > maxDepth {
		return false
	}

	switch v := value.(type) {
	case map[string]any:
		if _, ok := v[statusMentionKey]; ok {
			return true
		}
		for _, child := range v {
			if walk(child, depth+1) {
				return true
			}
		}
	case []any:
		for _, child := range v {
			if walk(child, depth+1) {
				return true
			}
		}
	}
	return false
}
