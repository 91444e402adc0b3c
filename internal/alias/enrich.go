package alias

import (
	"github.com/tphakala/fieldalias/internal/normalize"
	"github.com/tphakala/fieldalias/internal/phonetic"
	"github.com/tphakala/fieldalias/internal/signature"
)

// Enricher derives the normalized key and its dependent phonetic and
// signature fields. A nil Signatures builder gives the lean feature set.
type Enricher struct {
	Signatures *signature.Builder
}

// NewEnricher returns an Enricher. With signatures disabled only the
// phonetic codes are derived.
func NewEnricher(withSignatures bool, q, k int) *Enricher {
	if !withSignatures {
		return &Enricher{}
	}
	return &Enricher{Signatures: &signature.Builder{Q: q, K: k}}
}

// DefaultEnricher derives phonetic codes and default signatures.
func DefaultEnricher() *Enricher {
	return &Enricher{Signatures: signature.DefaultBuilder()}
}

// Enrich recomputes Alias, Norm, Codes and Signature of r from r.Alias.
// These fields are only ever set together here.
func (e *Enricher) Enrich(r *Record) {
	r.Alias = LowerAlias(r.Alias)
	r.Norm = normalize.Normalize(r.Alias)
	r.Codes = phonetic.Encode(r.Norm)
	r.Signature = nil
	if e != nil && e.Signatures != nil && r.Norm != "" {
		r.Signature = e.Signatures.Build(r.Norm)
	}
	if r.Weight <= 0 {
		r.Weight = DefaultWeight
	}
}

// WithSignatures reports whether the enricher builds signatures.
func (e *Enricher) WithSignatures() bool {
	return e != nil && e.Signatures != nil
}
