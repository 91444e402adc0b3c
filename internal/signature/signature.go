// Package signature builds q-gram shingles and MinHash/SimHash signatures
// for approximate duplicate detection between normalized aliases.
package signature

import (
	"math"
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultQ is the default shingle length in runes.
	DefaultQ = 3
	// DefaultK is the default number of MinHash slots.
	DefaultK = 64

	simHashBits = 64

	golden = 0x9E3779B97F4A7C15
)

// Signature is the approximate-similarity payload of one alias.
type Signature struct {
	MinHash []uint64
	SimHash uint64
}

// QGrams returns every q-gram of the normalized text padded with one space
// on each side, repeats included. A padded string shorter than q yields
// itself as the only q-gram.
func QGrams(normalized string, q int) []string {
	if q <= 0 {
		q = DefaultQ
	}
	padded := []rune(" " + normalized + " ")
	if len(padded) < q {
		return []string{string(padded)}
	}
	out := make([]string, 0, len(padded)-q+1)
	for i := 0; i+q <= len(padded); i++ {
		out = append(out, string(padded[i:i+q]))
	}
	return out
}

// Shingles returns the distinct q-grams of QGrams in order of first
// appearance.
func Shingles(normalized string, q int) []string {
	grams := QGrams(normalized, q)
	seen := make(map[string]struct{}, len(grams))
	out := grams[:0]
	for _, s := range grams {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// seeds returns k deterministic, well-spread 64-bit seeds (splitmix64).
func seeds(k int) []uint64 {
	out := make([]uint64, k)
	state := uint64(golden)
	for i := range out {
		state += golden
		z := state
		z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
		z = (z ^ (z >> 27)) * 0x94D049BB133111EB
		out[i] = z ^ (z >> 31)
	}
	return out
}

// mix combines a shingle hash with a seed through a 128-bit multiply and
// folds the product to 64 bits.
func mix(h, seed uint64) uint64 {
	hi, lo := bits.Mul64(h^seed, golden|1)
	return hi ^ lo
}

// MinHash returns k slots, each the minimum mixed hash over all shingles for
// that slot's seed. An empty shingle set fills every slot with MaxUint64.
func MinHash(shingles []string, k int) []uint64 {
	if k <= 0 {
		k = DefaultK
	}
	slots := make([]uint64, k)
	for i := range slots {
		slots[i] = math.MaxUint64
	}
	if len(shingles) == 0 {
		return slots
	}

	ss := seeds(k)
	for _, sh := range shingles {
		h := xxhash.Sum64String(sh)
		for i, seed := range ss {
			if v := mix(h, seed); v < slots[i] {
				slots[i] = v
			}
		}
	}
	return slots
}

// EstimateJaccard is the fraction of equal slots between two MinHash
// signatures; 0 when they are empty or differ in length.
func EstimateJaccard(a, b []uint64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	equal := 0
	for i := range a {
		if a[i] == b[i] {
			equal++
		}
	}
	return float64(equal) / float64(len(a))
}

// SimHash folds the shingle hashes into a 64-bit fingerprint: bit i is set
// when more shingle hashes have bit i set than cleared. Every occurrence
// votes, so pass QGrams to weight repeated q-grams.
func SimHash(shingles []string) uint64 {
	var acc [simHashBits]int
	for _, sh := range shingles {
		h := xxhash.Sum64String(sh)
		for i := range simHashBits {
			if h&(1<<uint(i)) != 0 {
				acc[i]++
			} else {
				acc[i]--
			}
		}
	}
	var out uint64
	for i, v := range acc {
		if v > 0 {
			out |= 1 << uint(i)
		}
	}
	return out
}

// Hamming returns the number of differing bits.
func Hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Builder produces signatures with a fixed shingle length and slot count.
type Builder struct {
	Q int
	K int
}

// DefaultBuilder returns a Builder with q=3 and 64 MinHash slots.
func DefaultBuilder() *Builder {
	return &Builder{Q: DefaultQ, K: DefaultK}
}

// Build computes the signature of a normalized string. MinHash ignores
// repeats; SimHash counts every q-gram occurrence.
func (b *Builder) Build(normalized string) *Signature {
	grams := QGrams(normalized, b.Q)
	return &Signature{
		MinHash: MinHash(grams, b.K),
		SimHash: SimHash(grams),
	}
}
