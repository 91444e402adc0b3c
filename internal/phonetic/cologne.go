package phonetic

import "strings"

// Cologne returns the Kölner Phonetik code of a normalized string. Each
// word is encoded separately and the codes are joined with a space. Words
// without encodable letters are dropped; "" means no opinion.
func Cologne(normalized string) string {
	words := strings.Fields(normalized)
	codes := make([]string, 0, len(words))
	for _, w := range words {
		if c := cologneWord(w); c != "" {
			codes = append(codes, c)
		}
	}
	return strings.Join(codes, " ")
}

func cologneWord(word string) string {
	// only ASCII letters take part; normalization has already folded accents
	letters := make([]byte, 0, len(word))
	for i := 0; i < len(word); i++ {
		if c := word[i]; c >= 'a' && c <= 'z' {
			letters = append(letters, c)
		}
	}
	if len(letters) == 0 {
		return ""
	}

	raw := make([]byte, 0, len(letters)*2)
	for i, c := range letters {
		var prev, next byte
		if i > 0 {
			prev = letters[i-1]
		}
		if i+1 < len(letters) {
			next = letters[i+1]
		}
		raw = append(raw, cologneCode(c, prev, next, i == 0)...)
	}

	// collapse adjacent duplicates, then drop every '0' but a leading one
	out := make([]byte, 0, len(raw))
	var last byte
	for i, c := range raw {
		if i > 0 && c == last {
			continue
		}
		last = c
		if c == '0' && len(out) > 0 {
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

func cologneCode(c, prev, next byte, first bool) string {
	switch c {
	case 'a', 'e', 'i', 'j', 'o', 'u', 'y':
		return "0"
	case 'h':
		return ""
	case 'b':
		return "1"
	case 'p':
		if next == 'h' {
			return "3"
		}
		return "1"
	case 'd', 't':
		if next == 'c' || next == 's' || next == 'z' {
			return "8"
		}
		return "2"
	case 'f', 'v', 'w':
		return "3"
	case 'g', 'k', 'q':
		return "4"
	case 'c':
		if first {
			if strings.IndexByte("ahkloqrux", next) >= 0 {
				return "4"
			}
			return "8"
		}
		if prev == 's' || prev == 'z' {
			return "8"
		}
		if strings.IndexByte("ahkoqux", next) >= 0 {
			return "4"
		}
		return "8"
	case 'x':
		if prev == 'c' || prev == 'k' || prev == 'q' {
			return "8"
		}
		return "48"
	case 'l':
		return "5"
	case 'm', 'n':
		return "6"
	case 'r':
		return "7"
	case 's', 'z':
		return "8"
	}
	return ""
}
