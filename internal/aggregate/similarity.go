package aggregate

import (
	"strings"
	"unicode"
)

// Similarity returns the word-level Jaccard similarity of two texts after
// lower-casing and stripping punctuation. Two empty texts are identical.
func Similarity(a, b string) float64 {
	wa, wb := wordSet(a), wordSet(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1
	}

	shared := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			shared++
		}
	}
	union := len(wa) + len(wb) - shared
	return float64(shared) / float64(union)
}

// Normalize lower-cases text, drops punctuation and collapses whitespace.
func Normalize(text string) string {
	return strings.Join(words(text), " ")
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func wordSet(text string) map[string]struct{} {
	ws := words(text)
	set := make(map[string]struct{}, len(ws))
	for _, w := range ws {
		set[w] = struct{}{}
	}
	return set
}
