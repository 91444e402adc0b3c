// Package matcher resolves a heard token to ranked species candidates:
// exact alias hits first, then phonetic neighbours, then a signature
// fallback for fragments.
package matcher

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/antzucaro/matchr"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/fieldalias/internal/alias"
	"github.com/tphakala/fieldalias/internal/hotpatch"
	"github.com/tphakala/fieldalias/internal/logger"
	"github.com/tphakala/fieldalias/internal/normalize"
	"github.com/tphakala/fieldalias/internal/phonetic"
	"github.com/tphakala/fieldalias/internal/signature"
)

const (
	DefaultLimit   = 5
	DefaultMemoTTL = 30 * time.Second

	// partialWordFactor discounts a match against a single word of a
	// multi-word alias.
	partialWordFactor = 0.9
	// minJaccard is the signature fallback acceptance threshold.
	minJaccard = 0.5
)

// Kind tells which stage produced a candidate.
type Kind string

const (
	KindExact     Kind = "exact"
	KindPhonetic  Kind = "phonetic"
	KindSignature Kind = "signature"
)

// Candidate is one ranked species for a token.
type Candidate struct {
	SpeciesID string
	Canonical string
	TileName  string
	Alias     string
	AliasID   uint32
	Source    alias.Source
	Score     float64
	Kind      Kind
}

// Index is the read side of the hot-patch cache.
type Index interface {
	FindExact(norm string) []alias.Record
	Candidates(keys []string) []alias.Record
	Range(fn func(rec *alias.Record) bool)
	Generation() uint64
}

// Config tunes ranking. Zero values select the defaults. Every record
// sharing a code with the token is ranked unless MinScore is positive,
// which then drops phonetic candidates scoring below it.
type Config struct {
	Limit             int
	MinScore          float64
	MemoTTL           time.Duration
	SignatureFallback bool
	Signatures        *signature.Builder
}

// Matcher is safe for concurrent use.
type Matcher struct {
	index Index
	cfg   Config
	memo  *cache.Cache

	lastGen atomic.Uint64
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// New returns a Matcher over index.
func New(index Index, cfg Config) *Matcher {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.MemoTTL <= 0 {
		cfg.MemoTTL = DefaultMemoTTL
	}
	if cfg.SignatureFallback && cfg.Signatures == nil {
		cfg.Signatures = signature.DefaultBuilder()
	}
	return &Matcher{
		index: index,
		cfg:   cfg,
		memo:  cache.New(cfg.MemoTTL, 2*cfg.MemoTTL),
	}
}

// MemoStats returns memo hits and misses.
func (m *Matcher) MemoStats() (hits, misses uint64) {
	return m.hits.Load(), m.misses.Load()
}

// Query returns up to limit candidates for token, best first, with at
// most one candidate per species. limit <= 0 uses the configured limit.
func (m *Matcher) Query(token string, limit int) []Candidate {
	if limit <= 0 {
		limit = m.cfg.Limit
	}
	norm := normalize.Normalize(token)
	if norm == "" {
		return nil
	}

	gen := m.index.Generation()
	if prev := m.lastGen.Swap(gen); prev != gen {
		m.memo.Flush()
	}
	key := fmt.Sprintf("%d|%d|%s", gen, limit, norm)
	if v, ok := m.memo.Get(key); ok {
		m.hits.Add(1)
		return slices.Clone(v.([]Candidate))
	}
	m.misses.Add(1)

	start := time.Now()
	out := m.rank(norm, limit)
	m.memo.SetDefault(key, out)

	GetLogger().Trace("query ranked",
		logger.Int("candidates", len(out)),
		logger.Duration("elapsed", time.Since(start)))
	return slices.Clone(out)
}

func (m *Matcher) rank(norm string, limit int) []Candidate {
	if exact := m.index.FindExact(norm); len(exact) > 0 {
		out := make([]Candidate, 0, len(exact))
		for i := range exact {
			out = append(out, toCandidate(&exact[i], exact[i].Weight, KindExact))
		}
		return out[:min(len(out), limit)]
	}

	codes := phonetic.Encode(norm)
	if out := m.phonetic(norm, codes, limit); len(out) > 0 {
		return out
	}
	if m.cfg.SignatureFallback {
		return m.bySignature(norm, limit)
	}
	return nil
}

type scored struct {
	rec   *alias.Record
	score float64
	jw    float64
}

func (m *Matcher) phonetic(norm string, codes phonetic.Codes, limit int) []Candidate {
	recs := m.index.Candidates(hotpatch.CodeKeys(codes))
	if len(recs) == 0 {
		return nil
	}

	query := phonetic.Tokenize(codes.Phonemes)
	if len(query) == 0 {
		query = phonetic.ToPhonemes(norm)
	}

	best := make(map[string]scored, len(recs))
	for i := range recs {
		rec := &recs[i]
		sim := phonemeScore(query, rec)
		score := sim * rec.Weight
		if m.cfg.MinScore > 0 && score < m.cfg.MinScore {
			continue
		}
		s := scored{rec: rec, score: score, jw: matchr.JaroWinkler(norm, rec.Norm, false)}
		if cur, ok := best[rec.SpeciesID]; !ok || better(s, cur) {
			best[rec.SpeciesID] = s
		}
	}
	return collect(best, limit, KindPhonetic)
}

// phonemeScore is the phoneme similarity to the whole alias or, scaled
// down, to its best matching word.
func phonemeScore(query []string, rec *alias.Record) float64 {
	full := rec.Codes.Phonemes
	if full == "" {
		full = phonetic.Phonemes(rec.Norm)
	}
	score := phonetic.Similarity(query, phonetic.Tokenize(full))
	if !strings.Contains(full, " ") {
		return score
	}
	for w := range strings.FieldsSeq(full) {
		score = max(score, phonetic.Similarity(query, phonetic.Tokenize(w))*partialWordFactor)
	}
	return score
}

func (m *Matcher) bySignature(norm string, limit int) []Candidate {
	sig := m.cfg.Signatures.Build(norm)
	if sig == nil {
		return nil
	}
	best := make(map[string]scored)
	m.index.Range(func(rec *alias.Record) bool {
		if rec.Signature == nil {
			return true
		}
		j := signature.EstimateJaccard(sig.MinHash, rec.Signature.MinHash)
		if j < minJaccard {
			return true
		}
		s := scored{rec: rec, score: j * rec.Weight, jw: matchr.JaroWinkler(norm, rec.Norm, false)}
		if cur, ok := best[rec.SpeciesID]; !ok || better(s, cur) {
			best[rec.SpeciesID] = s
		}
		return true
	})
	return collect(best, limit, KindSignature)
}

func better(a, b scored) bool {
	return compareScored(a, b) < 0
}

// compareScored orders by score, then Jaro-Winkler, then species id and
// alias id.
func compareScored(a, b scored) int {
	return cmp.Or(
		cmp.Compare(b.score, a.score),
		cmp.Compare(b.jw, a.jw),
		cmp.Compare(a.rec.SpeciesID, b.rec.SpeciesID),
		cmp.Compare(a.rec.AliasID, b.rec.AliasID),
	)
}

func collect(best map[string]scored, limit int, kind Kind) []Candidate {
	if len(best) == 0 {
		return nil
	}
	ranked := make([]scored, 0, len(best))
	for _, s := range best {
		ranked = append(ranked, s)
	}
	slices.SortFunc(ranked, compareScored)
	ranked = ranked[:min(len(ranked), limit)]

	out := make([]Candidate, len(ranked))
	for i, s := range ranked {
		out[i] = toCandidate(s.rec, s.score, kind)
	}
	return out
}

func toCandidate(rec *alias.Record, score float64, kind Kind) Candidate {
	return Candidate{
		SpeciesID: rec.SpeciesID,
		Canonical: rec.Canonical,
		TileName:  rec.TileName,
		Alias:     rec.Alias,
		AliasID:   rec.AliasID,
		Source:    rec.Source,
		Score:     score,
		Kind:      kind,
	}
}
