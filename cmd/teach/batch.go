package teach

import (
	"bufio"
	"strings"

	"github.com/tphakala/fieldalias/internal/alias"
	"github.com/tphakala/fieldalias/internal/normalize"
)

// Trainer is the subset of the engine used for batch teaching.
type Trainer interface {
	AddAlias(speciesID, aliasText, canonical, tileName string) bool
	Snapshot() *alias.Index
}

// Entry is one parsed batch line.
type Entry struct {
	SpeciesID string
	Alias     string
	Canonical string
	TileName  string
}

// Fill completes a missing canonical or tile name from the names already
// indexed for the species. It reports false when the species is unknown
// and no canonical name was given.
func (e *Entry) Fill(idx *alias.Index) bool {
	if e.Canonical != "" && e.TileName != "" {
		return true
	}
	c, tile, known := Lookup(idx, e.SpeciesID)
	if !known {
		return e.Canonical != ""
	}
	if e.Canonical == "" {
		e.Canonical = c
	}
	if e.TileName == "" {
		e.TileName = tile
	}
	return true
}

// Rejection records a line that was not taught.
type Rejection struct {
	Line   int
	Reason string
}

// BatchResult summarizes Batch.
type BatchResult struct {
	Taught   int
	Rejected []Rejection
}

// ParseLine parses "species-id;alias[;canonical[;tile]]". ok is false for
// blank and comment lines; a line missing the alias or with an alias of
// only punctuation yields an error reason.
func ParseLine(line string) (entry Entry, reason string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Entry{}, "", false
	}
	fields := strings.Split(line, ";")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if len(fields) < 2 || fields[0] == "" || fields[1] == "" {
		return Entry{}, "expected species-id;alias", true
	}
	if normalize.IsBlank(fields[1]) {
		return Entry{}, "alias is blank after normalization", true
	}
	entry = Entry{SpeciesID: fields[0], Alias: fields[1]}
	if len(fields) > 2 {
		entry.Canonical = fields[2]
	}
	if len(fields) > 3 {
		entry.TileName = fields[3]
	}
	return entry, "", true
}

// Batch teaches every line of sc. Missing canonical and tile names are
// taken from the index; unknown species without a canonical name are
// rejected.
func Batch(t Trainer, sc *bufio.Scanner) (BatchResult, error) {
	var res BatchResult
	idx := t.Snapshot()
	lineNo := 0
	for sc.Scan() {
		lineNo++
		entry, reason, ok := ParseLine(sc.Text())
		if !ok {
			continue
		}
		if reason != "" {
			res.Rejected = append(res.Rejected, Rejection{Line: lineNo, Reason: reason})
			continue
		}
		if !entry.Fill(idx) {
			res.Rejected = append(res.Rejected, Rejection{Line: lineNo, Reason: "unknown species"})
			continue
		}
		if !t.AddAlias(entry.SpeciesID, entry.Alias, entry.Canonical, entry.TileName) {
			res.Rejected = append(res.Rejected, Rejection{Line: lineNo, Reason: "blank, duplicate or conflicting alias"})
			continue
		}
		res.Taught++
	}
	return res, sc.Err()
}
