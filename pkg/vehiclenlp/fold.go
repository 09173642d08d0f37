// Package vehiclenlp normalizes free-text vehicle brand and model strings so
// they can be compared against a catalog: case and diacritic folding,
// tokenization, brand aliases and edit-distance similarity.
package vehiclenlp

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// makeAliases maps folded abbreviations/nicknames to folded canonical make names.
var makeAliases = map[string]string{
	"chevy":         "chevrolet",
	"chev":          "chevrolet",
	"merc":          "mercedes benz",
	"benz":          "mercedes benz",
	"mercedes":      "mercedes benz",
	"mb":            "mercedes benz",
	"vw":            "volkswagen",
	"volks":         "volkswagen",
	"land":          "land rover",
	"landrover":     "land rover",
	"alfa":          "alfa romeo",
	"citroen":       "citroen",
	"psa":           "peugeot",
	"gm":            "chevrolet",
	"mini cooper":   "mini",
	"rr":            "land rover",
	"toyota motors": "toyota",
}

// Fold lowercases s, strips diacritics, turns separators into spaces and
// collapses whitespace: "Citroën C4-Cactus" -> "citroen c4 cactus".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range strings.ToLower(stripped) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Compact folds s and removes all spaces: "CR-V" -> "crv".
func Compact(s string) string {
	return strings.ReplaceAll(Fold(s), " ", "")
}

// Tokens returns the folded words of s.
func Tokens(s string) []string {
	return strings.Fields(Fold(s))
}

// CanonicalMake returns the folded canonical make for a folded alias, or the
// input unchanged when no alias is known.
func CanonicalMake(folded string) string {
	if c, ok := makeAliases[folded]; ok {
		return c
	}
	return folded
}

// ContainsTokens reports whether every token of needle appears in haystack.
func ContainsTokens(haystack, needle []string) bool {
	if len(needle) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(haystack))
	for _, t := range haystack {
		set[t] = struct{}{}
	}
	for _, t := range needle {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// Levenshtein returns the edit distance between a and b, counted in runes.
func Levenshtein(a, b string) int {
	return edlib.LevenshteinDistance(a, b)
}

// Similarity returns 1 - distance/longest, in [0, 1]. Two empty strings are
// considered identical.
func Similarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(edlib.LevenshteinDistance(a, b))/float64(longest)
}
