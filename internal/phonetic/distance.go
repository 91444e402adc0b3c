package phonetic

// Edit costs over phoneme tokens.
const (
	costIndel      = 1
	costSameClass  = 1
	costCrossClass = 2
)

// Distance is the weighted edit distance between two token sequences.
// Inserting or deleting a token costs 1. Substituting a vowel for a vowel
// or a consonant for a consonant costs 1; crossing classes costs 2.
func Distance(a, b []string) int {
	if len(a) == 0 {
		return len(b) * costIndel
	}
	if len(b) == 0 {
		return len(a) * costIndel
	}

	// two-row DP over b
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j * costIndel
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i * costIndel
		for j := 1; j <= len(b); j++ {
			best := min(prev[j]+costIndel, curr[j-1]+costIndel)
			best = min(best, prev[j-1]+substitutionCost(a[i-1], b[j-1]))
			curr[j] = best
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func substitutionCost(x, y string) int {
	switch {
	case x == y:
		return 0
	case IsVowel(x) == IsVowel(y):
		return costSameClass
	default:
		return costCrossClass
	}
}

// Similarity maps Distance onto [0,1]: 1 - d/max(len(a), len(b)).
// Two empty sequences are identical.
func Similarity(a, b []string) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1.0
	}
	s := 1.0 - float64(Distance(a, b))/float64(longest)
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

// PhonemeSimilarity compares two normalized strings by their phonemes.
func PhonemeSimilarity(x, y string) float64 {
	return Similarity(ToPhonemes(x), ToPhonemes(y))
}
