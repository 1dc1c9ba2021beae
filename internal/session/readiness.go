package session

import "strings"

// Intent phrases grouped by how strongly they signal the caller wants
// to move on. Matching is substring-based on lowercased text.
var (
	strongAdvance = []string{
		"ready to move",
		"move to the next",
		"next level",
		"next phase",
		"let's advance",
		"advance now",
		"that's everything",
		"we're done here",
	}
	softAdvance = []string{
		"looks good",
		"sounds right",
		"that's correct",
		"makes sense",
		"i confirm",
		"confirmed",
		"proceed",
		"continue",
	}
	holdBack = []string{
		"not ready",
		"not yet",
		"wait",
		"hold on",
		"one more thing",
		"before we move",
		"still missing",
	}
)

// Readiness scores the caller's intent to advance from their latest
// text, in [0,1]. It is a suggestion only and never triggers a
// transition by itself.
func Readiness(text string) float64 {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return 0
	}
	for _, p := range holdBack {
		if strings.Contains(t, p) {
			return 0
		}
	}
	score := 0.0
	for _, p := range strongAdvance {
		if strings.Contains(t, p) {
			score += 0.5
		}
	}
	for _, p := range softAdvance {
		if strings.Contains(t, p) {
			score += 0.25
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}
