// Package slug builds URL-friendly identifiers from book names.
package slug

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fallback is used for names that contain no letters or digits.
const Fallback = "book"

// Make lowercases name, strips combining marks (Latin accents, Hebrew niqqud),
// turns whitespace, underscores and dashes into single dashes and drops all
// other punctuation. Letters of any script are kept, so Hebrew names produce
// Hebrew slugs.
func Make(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_':
			pendingDash = true
		}
	}
	if b.Len() == 0 {
		return Fallback
	}
	return b.String()
}

// Unique returns base, or base with the smallest "-N" suffix (N >= 2) for
// which taken reports false.
func Unique(base string, taken func(string) (bool, error)) (string, error) {
	candidate := base
	for n := 2; ; n++ {
		used, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !used {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(n)
	}
}
