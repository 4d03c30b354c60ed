// Package room routes room-scoped intents and events over the signaling
// transport, and owns the human-memorable room id format.
package room

import (
	"math/rand"
	"regexp"
	"strings"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz"

var idPattern = regexp.MustCompile(`^[a-z]{3}-[a-z]{3}-[a-z]{3}$`)

// NewID generates a room id of three lowercase triplets, e.g. "abc-def-ghi".
// The rng is injected so tests can seed it.
func NewID(rng *rand.Rand) string {
	seg := func() string {
		b := make([]byte, 3)
		for i := range b {
			b[i] = idAlphabet[rng.Intn(len(idAlphabet))]
		}
		return string(b)
	}
	return seg() + "-" + seg() + "-" + seg()
}

// NormalizeID trims and lowercases user-typed room ids.
func NormalizeID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidID reports whether s matches the room id format.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}
