// Package phonetic derives pronunciation codes for normalized alias text:
// a Kölner Phonetik consonant skeleton, an IPA-like phoneme string and a
// Double Metaphone key. Any code may be empty, which means "no opinion".
package phonetic

import (
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/tphakala/fieldalias/internal/logger"
)

// Codes holds the phonetic encodings of one normalized string.
type Codes struct {
	Cologne   string `yaml:"cologne,omitempty"`
	Phonemes  string `yaml:"phonemes,omitempty"`
	Metaphone string `yaml:"metaphone,omitempty"`
}

// IsEmpty reports whether no encoder had an opinion.
func (c Codes) IsEmpty() bool {
	return c.Cologne == "" && c.Phonemes == "" && c.Metaphone == ""
}

// Metaphone returns the Double Metaphone primary code of every word,
// joined with a space.
func Metaphone(normalized string) string {
	words := strings.Fields(normalized)
	codes := make([]string, 0, len(words))
	for _, w := range words {
		if p, _ := matchr.DoubleMetaphone(w); p != "" {
			codes = append(codes, p)
		}
	}
	return strings.Join(codes, " ")
}

// Encode computes all codes for a normalized string. Each encoder runs on
// its own; one failing leaves only its own code empty.
func Encode(normalized string) Codes {
	return Codes{
		Cologne:   safeEncode("cologne", normalized, Cologne),
		Phonemes:  safeEncode("phonemes", normalized, Phonemes),
		Metaphone: safeEncode("metaphone", normalized, Metaphone),
	}
}

func safeEncode(name, normalized string, fn func(string) string) (code string) {
	defer func() {
		if r := recover(); r != nil {
			GetLogger().Debug("phonetic encoder failed",
				logger.String("encoder", name),
				logger.Int("input_len", len(normalized)),
				logger.String("panic", fmt.Sprint(r)))
			code = ""
		}
	}()
	return fn(normalized)
}
