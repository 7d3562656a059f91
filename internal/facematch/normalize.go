package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizePersonName folds a target name into its lookup key: diacritics removed,
// lowercased, dashes and underscores read as spaces, whitespace collapsed.
// "Jan Novák", "jan-novak" and "JAN_NOVAK " all map to "jan novak".
func NormalizePersonName(name string) string {
	// chained transformers keep state, so one per call
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, name)
	if err != nil {
		folded = name
	}
	folded = strings.Map(func(r rune) rune {
		if r == '-' || r == '_' {
			return ' '
		}
		return unicode.ToLower(r)
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}
