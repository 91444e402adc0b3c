// Package normalize folds raw alias and query text into the canonical form
// used as the alias index key.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// folds holds letters that carry no combining mark after NFD decomposition
// and would otherwise survive as distinct characters.
var folds = map[rune]string{
	'ß': "ss",
	'æ': "ae",
	'ø': "o",
	'œ': "oe",
	'ł': "l",
	'đ': "d",
	'ð': "d",
	'þ': "th",
	'ı': "i",
}

// Normalize lowercases s, strips diacritics, folds special letters and
// collapses every run of non-alphanumeric characters into one space.
// The result has no leading or trailing space. Normalize is idempotent.
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	// transform.Chain keeps internal state, so a chain is built per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}

	var b strings.Builder
	b.Grow(len(stripped))
	pendingSpace := false
	for _, r := range stripped {
		r = unicode.ToLower(r)
		switch {
		case folds[r] != "":
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteString(folds[r])
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		default:
			pendingSpace = true
		}
	}
	return b.String()
}

// IsBlank reports whether s normalizes to the empty string.
func IsBlank(s string) bool {
	return Normalize(s) == ""
}
