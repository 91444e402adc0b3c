package catalog

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/tphakala/fieldalias/internal/errors"
	"github.com/tphakala/fieldalias/internal/logger"
)

// LabelFileCatalog reads a BirdNET style label file. Each line is
//
//	Scientific name_Common name[_code][;alias;alias...]
//
// The species id is the code when present, otherwise the lowercased
// scientific name. The scientific name doubles as the tile label.
// Blank lines and lines starting with '#' are ignored.
type LabelFileCatalog struct {
	path string
}

// NewLabelFileCatalog returns a catalog reading path on every call.
func NewLabelFileCatalog(path string) *LabelFileCatalog {
	return &LabelFileCatalog{path: path}
}

// Name identifies the catalog in logs.
func (c *LabelFileCatalog) Name() string {
	return "labels"
}

// Species parses the label file.
func (c *LabelFileCatalog) Species(ctx context.Context) ([]Species, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, errors.New(err).
			Component("catalog").
			Category(errors.CategoryFileIO).
			FileContext(c.path, 0).
			Build()
	}
	defer func() { _ = f.Close() }()

	var out []Species
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		s, ok := ParseLabelLine(scanner.Text())
		if !ok {
			continue
		}
		if _, dup := seen[s.ID]; dup {
			GetLogger().Debug("duplicate species id in label file",
				logger.String("species_id", s.ID),
				logger.Int("line", lineNo))
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(err).
			Component("catalog").
			Category(errors.CategoryFileParsing).
			FileContext(c.path, 0).
			Context("line", lineNo).
			Build()
	}
	return out, nil
}

// ParseLabelLine parses one label line. ok is false for blank lines,
// comments and lines without a usable name.
func ParseLabelLine(line string) (Species, bool) {
	line = strings.TrimSpace(strings.ReplaceAll(line, "\r", ""))
	if line == "" || strings.HasPrefix(line, "#") {
		return Species{}, false
	}

	label, extras, _ := strings.Cut(line, ";")
	parts := strings.SplitN(strings.TrimSpace(label), "_", 3)

	var s Species
	switch len(parts) {
	case 3:
		s = Species{ID: strings.TrimSpace(parts[2]), Canonical: parts[1], TileName: parts[0]}
	case 2:
		s = Species{Canonical: parts[1], TileName: parts[0]}
	default:
		s = Species{Canonical: parts[0]}
	}
	s.Canonical = strings.TrimSpace(s.Canonical)
	s.TileName = strings.TrimSpace(s.TileName)
	if s.ID == "" {
		s.ID = strings.ToLower(s.TileName)
	}
	if s.ID == "" {
		s.ID = strings.ToLower(s.Canonical)
	}
	if s.Canonical == "" || s.ID == "" {
		return Species{}, false
	}

	for a := range strings.SplitSeq(extras, ";") {
		if a = strings.TrimSpace(a); a != "" {
			s.Aliases = append(s.Aliases, a)
		}
	}
	return s, true
}
