package rank

import (
	"strings"
	"unicode"
)

// Tokens returns the distinct lowercase word tokens of s. Tokens are split on
// anything that is not a letter or digit; there is no stemming.
func Tokens(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|, or 0 if either set is empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func itemText(title, description string) string {
	return title + " " + description
}
