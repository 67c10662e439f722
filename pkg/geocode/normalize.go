package geocode

import (
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeKey canonicalizes a municipality name into its cache key: Unicode
// case folding, surrounding whitespace trimmed, internal runs collapsed to
// single spaces. "Victoria", "  victoria  " and "VICTORIA" share one key.
// Accents are kept, so distinct place names stay distinct.
func NormalizeKey(name string) string {
	folded := cases.Fold().String(name)
	return strings.Join(strings.Fields(folded), " ")
}
