package phonetic

import (
	"strings"
	"unicode/utf8"
)

// maxPatternLen is the longest grapheme pattern in graphemeTable, in runes.
const maxPatternLen = 4

// graphemeTable maps letter groups to IPA-like phonemes. Longer patterns
// win over their prefixes; single letters are the fallback.
var graphemeTable = map[string]string{
	// four letters
	"tsch": "tʃ",

	// three letters
	"sch": "ʃ",
	"tch": "tʃ",
	"dge": "dʒ",
	"igh": "aɪ",
	"skj": "ʃ",
	"stj": "ʃ",

	// two letters
	"ch": "x",
	"sh": "ʃ",
	"sj": "ʃ",
	"zh": "ʒ",
	"ph": "f",
	"th": "θ",
	"ng": "ŋ",
	"nk": "ŋk",
	"ck": "k",
	"qu": "kv",
	"dj": "dʒ",
	"ei": "aɪ",
	"ai": "aɪ",
	"ay": "eɪ",
	"ey": "eɪ",
	"au": "aʊ",
	"ow": "aʊ",
	"oi": "ɔɪ",
	"oy": "ɔɪ",
	"eu": "ɔɪ",
	"oa": "oʊ",
	"ie": "iː",
	"ee": "iː",
	"ii": "iː",
	"aa": "aː",
	"oo": "uː",
	"uu": "uː",
	"ah": "aː",
	"eh": "eː",
	"oh": "oː",
	"uh": "uː",
	"bb": "b",
	"dd": "d",
	"ff": "f",
	"gg": "g",
	"kk": "k",
	"ll": "l",
	"mm": "m",
	"nn": "n",
	"pp": "p",
	"rr": "r",
	"ss": "s",
	"tt": "t",
	"tz": "ts",
	"zz": "ts",

	// single letters
	"a": "a",
	"b": "b",
	"c": "k",
	"d": "d",
	"e": "ɛ",
	"f": "f",
	"g": "g",
	"h": "h",
	"i": "ɪ",
	"j": "j",
	"k": "k",
	"l": "l",
	"m": "m",
	"n": "n",
	"o": "ɔ",
	"p": "p",
	"q": "k",
	"r": "r",
	"s": "s",
	"t": "t",
	"u": "ʊ",
	"v": "v",
	"w": "v",
	"x": "ks",
	"y": "y",
	"z": "ts",
}

// multiRuneSymbols are phonemes written with more than one rune that count
// as a single token.
var multiRuneSymbols = []string{"tʃ", "dʒ", "aɪ", "eɪ", "aʊ", "ɔɪ", "oʊ"}

const lengthMark = 'ː'

// Phonemes converts a normalized string into its phoneme string. Words are
// separated by a single space. Characters without a table entry pass
// through unchanged.
func Phonemes(normalized string) string {
	words := strings.Fields(normalized)
	if len(words) == 0 {
		return ""
	}
	var b strings.Builder
	for i, w := range words {
		if i > 0 {
			b.WriteByte(' ')
		}
		transcribeWord(&b, w)
	}
	return b.String()
}

// ToPhonemes returns the phoneme tokens of a normalized string, the unit
// Distance works on. Word boundaries are not tokens.
func ToPhonemes(normalized string) []string {
	return Tokenize(Phonemes(normalized))
}

func transcribeWord(b *strings.Builder, word string) {
	for len(word) > 0 {
		matched := false
		for n := min(maxPatternLen, utf8.RuneCountInString(word)); n >= 1; n-- {
			prefix := runePrefix(word, n)
			if ph, ok := graphemeTable[prefix]; ok {
				b.WriteString(ph)
				word = word[len(prefix):]
				matched = true
				break
			}
		}
		if !matched {
			r, size := utf8.DecodeRuneInString(word)
			b.WriteRune(r)
			word = word[size:]
		}
	}
}

// runePrefix returns the first n runes of s.
func runePrefix(s string, n int) string {
	i := 0
	for range n {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i]
}

// Tokenize splits a phoneme string into tokens. Affricates and diphthongs
// listed in multiRuneSymbols are single tokens and a length mark stays
// attached to the vowel before it. Spaces are dropped.
func Tokenize(phonemes string) []string {
	tokens := make([]string, 0, utf8.RuneCountInString(phonemes))
	rest := phonemes
	for len(rest) > 0 {
		if rest[0] == ' ' {
			rest = rest[1:]
			continue
		}
		tok := ""
		for _, sym := range multiRuneSymbols {
			if strings.HasPrefix(rest, sym) {
				tok = sym
				break
			}
		}
		if tok == "" {
			_, size := utf8.DecodeRuneInString(rest)
			tok = rest[:size]
		}
		rest = rest[len(tok):]
		if r, size := utf8.DecodeRuneInString(rest); r == lengthMark {
			tok += rest[:size]
			rest = rest[size:]
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// vowels lists the runes that start a vowel token.
const vowels = "aeiouyɛɪɔʊæəɑøœɐʏɒʌɜɨʉɯɤ"

// IsVowel reports whether a phoneme token is a vowel or diphthong.
func IsVowel(token string) bool {
	r, _ := utf8.DecodeRuneInString(token)
	return r != utf8.RuneError && strings.ContainsRune(vowels, r)
}
