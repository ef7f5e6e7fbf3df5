package epg

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// stripped are the characters deleted outright during normalization.
const stripped = ".-/(){}[]: "

// Normalize renders a channel identifier into its canonical matching form:
// lowercase, separator characters deleted, "+" spelled out, accents folded
// away via NFKD with combining marks removed.
func Normalize(id string) string {
	lowered := strings.ToLower(id)
	lowered = strings.ReplaceAll(lowered, "+", "plus")

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range norm.NFKD.String(lowered) {
		if unicode.Is(unicode.Mn, r) {
			continue // combining mark
		}
		if strings.ContainsRune(stripped, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
