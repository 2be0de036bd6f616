// Package textnorm implements the canonical-form and gist normalization
// rules shared by the queue scheduler and the embedding cache.
package textnorm

import (
	"regexp"
	"strings"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9 ]`)

// Canonical strips, casefolds, and removes non-alphanumerics while
// preserving spaces.
func Canonical(s string) string {
	trimmed := strings.TrimSpace(s)
	cleaned := nonAlphanumeric.ReplaceAllString(trimmed, "")
	return strings.ToLower(cleaned)
}

// disfluencies are filler words stripped when deriving a gist.
var disfluencies = []string{"um", "uh", "like", "you know", "i mean", "so", "well", "actually", "basically"}

// Gist derives a normalized, disfluency-stripped form used as a stable
// cache key. It runs Canonical first, then drops
// filler tokens and collapses whitespace.
func Gist(s string) string {
	canon := Canonical(s)
	words := strings.Fields(canon)
	out := words[:0:0]
	for i := 0; i < len(words); i++ {
		// Two-word fillers ("you know", "i mean") are matched as a pair.
		if i+1 < len(words) && isDisfluency(words[i]+" "+words[i+1]) {
			i++
			continue
		}
		if isDisfluency(words[i]) {
			continue
		}
		out = append(out, words[i])
	}
	return strings.Join(out, " ")
}

func isDisfluency(word string) bool {
	for _, d := range disfluencies {
		if word == d {
			return true
		}
	}
	return false
}

// ExpansionMaps holds the three expansion dictionaries
// (punctuation, numbers, domains) used to expand symbols to words before
// embedding, when a deployment's configuration enables it.
type ExpansionMaps struct {
	Punctuation map[string]string
	Numbers     map[string]string
	Domains     map[string]string
}

// Expand replaces any token found in the three maps with its word form. The
// maps are loaded once by the composition root and passed in — never a
// package-level singleton.
func (m ExpansionMaps) Expand(s string) string {
	if len(m.Punctuation) == 0 && len(m.Numbers) == 0 && len(m.Domains) == 0 {
		return s
	}
	words := strings.Fields(s)
	for i, w := range words {
		if repl, ok := m.Punctuation[w]; ok {
			words[i] = repl
			continue
		}
		if repl, ok := m.Numbers[w]; ok {
			words[i] = repl
			continue
		}
		if repl, ok := m.Domains[w]; ok {
			words[i] = repl
		}
	}
	return strings.Join(words, " ")
}
