package phonetic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCologne(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"mueller", "657"},
		{"muller", "657"},
		{"meier", "67"},
		{"mayr", "67"},
		{"wikipedia", "3412"},
		{"breschnew", "17863"},
		{"xaver", "4837"},
		{"christoph", "47823"},
		{"grun specht", "476 8142"},
		{"123", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Cologne(tt.input))
		})
	}
}

func TestPhonemesGreedyLongestMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"schwan", "ʃvan"},
		{"tschagra", "tʃagra"},
		{"fink", "fɪŋk"},
		{"kiebitz", "kiːbɪts"},
		{"reiher", "raɪhɛr"},
		{"grey heron", "greɪ hɛrɔn"},
		{"gull 2", "gʊl 2"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Phonemes(tt.input))
		})
	}
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"tʃ", "a", "g"}, Tokenize("tʃag"))
	assert.Equal(t, []string{"k", "iː", "b"}, Tokenize("kiːb"))
	assert.Equal(t, []string{"r", "aɪ", "h"}, Tokenize("raɪh"))
	assert.Equal(t, []string{"g", "ʊ", "l", "2"}, Tokenize("gʊl 2"))
	assert.Empty(t, Tokenize(""))
	assert.Equal(t, Tokenize(Phonemes("common crane")), ToPhonemes("common crane"))
}

func TestDistanceProperties(t *testing.T) {
	t.Parallel()

	words := []string{"", "kurki", "kurjet", "grey heron", "heron", "schwan", "swan"}
	for _, a := range words {
		ta := ToPhonemes(a)
		assert.Zero(t, Distance(ta, ta), "identity for %q", a)
		for _, b := range words {
			tb := ToPhonemes(b)
			assert.Equal(t, Distance(ta, tb), Distance(tb, ta), "symmetry for %q/%q", a, b)
		}
	}
}

func TestDistanceCrossClassCostsMore(t *testing.T) {
	t.Parallel()

	base := Tokenize("vɛif")
	crossClass := Tokenize("vɪŋk")
	sameClass := Tokenize("vɪek")

	require.Len(t, base, 4)
	assert.Equal(t, 4, Distance(base, crossClass))
	assert.Equal(t, 3, Distance(base, sameClass))
	assert.Greater(t, Distance(base, crossClass), Distance(base, sameClass))

	assert.Equal(t, 1, Distance([]string{"a"}, []string{"e"}))
	assert.Equal(t, 2, Distance([]string{"a"}, []string{"k"}))
	assert.Equal(t, 3, Distance(nil, []string{"a", "b", "c"}))
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, Similarity(nil, nil), 0)
	assert.InDelta(t, 0.0, Similarity([]string{"a"}, []string{"k"}), 0, "cross class distance exceeds length")
	assert.InDelta(t, 0.75, Similarity(Tokenize("vɛif"), Tokenize("vɛik")), 1e-9)
	assert.InDelta(t, 1.0, PhonemeSimilarity("schwan", "schwan"), 0)
	assert.Greater(t, PhonemeSimilarity("kiebitz", "kibitz"), PhonemeSimilarity("kiebitz", "kurki"))
}

func TestEncode(t *testing.T) {
	t.Parallel()

	c := Encode("grey heron")
	assert.NotEmpty(t, c.Cologne)
	assert.Equal(t, "greɪ hɛrɔn", c.Phonemes)
	assert.Equal(t, "KR HRN", c.Metaphone)
	assert.False(t, c.IsEmpty())

	assert.True(t, Encode("").IsEmpty())
}

func TestSafeEncodeRecovers(t *testing.T) {
	t.Parallel()

	got := safeEncode("boom", "x", func(string) string { panic("bad input") })
	assert.Empty(t, got)
}
