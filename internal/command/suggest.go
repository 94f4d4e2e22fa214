package command

import "sort"

const (
	// suggestThreshold is the minimum normalized similarity for a
	// candidate to be offered.
	suggestThreshold = 0.50
	maxSuggestions   = 3
)

// Suggestion is a known command scored against an unmatched token.
type Suggestion struct {
	Command string
	Score   float64
}

// Suggest scores every known command token against the unmatched input
// and returns up to three candidates above the similarity threshold,
// best first. An empty result means nothing was close enough.
func Suggest(token string, known []string) []Suggestion {
	token = normalize(token)
	if token == "" {
		return nil
	}

	var candidates []Suggestion
	seen := make(map[string]bool, len(known))
	for _, cmd := range known {
		cmd = normalize(cmd)
		if cmd == "" || seen[cmd] {
			continue
		}
		seen[cmd] = true

		if score := similarity(token, cmd); score > suggestThreshold {
			candidates = append(candidates, Suggestion{Command: cmd, Score: score})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Command < candidates[j].Command
	})

	if len(candidates) > maxSuggestions {
		candidates = candidates[:maxSuggestions]
	}
	return candidates
}

func normalize(s string) string {
	// Parse lowercases command tokens; callers passing raw declarations
	// still need folding.
	b := []byte(s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// similarity normalizes edit distance into [0,1]: identical strings score
// 1.0, disjoint strings approach 0.
func similarity(a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	return float64(longest-levenshtein(a, b)) / float64(longest)
}

// levenshtein computes the Levenshtein edit distance between two strings:
// the minimum number of single-character insertions, deletions, or
// substitutions required to change one into the other.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	// Single row of the distance matrix, updated in place:
	// O(min(m,n)) space instead of O(m*n).
	if len(a) > len(b) {
		a, b = b, a
	}

	previous := make([]int, len(a)+1)
	for i := range previous {
		previous[i] = i
	}

	for j := 1; j <= len(b); j++ {
		current := make([]int, len(a)+1)
		current[0] = j

		for i := 1; i <= len(a); i++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}

			deletion := previous[i] + 1
			insertion := current[i-1] + 1
			substitution := previous[i-1] + cost

			current[i] = min(deletion, min(insertion, substitution))
		}

		previous = current
	}

	return previous[len(a)]
}
