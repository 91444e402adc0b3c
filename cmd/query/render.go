package query

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/tphakala/fieldalias/internal/matcher"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	scoreStyle  = cellStyle.Align(lipgloss.Right)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// RenderCandidates writes candidates as a table, or a single line when
// there are none.
func RenderCandidates(w io.Writer, token string, candidates []matcher.Candidate) error {
	if len(candidates) == 0 {
		_, err := fmt.Fprintf(w, "no match for %q\n", token)
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("#", "SPECIES", "CANONICAL", "TILE", "ALIAS", "KIND", "SCORE").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 6:
				return scoreStyle
			default:
				return cellStyle
			}
		})
	for i, c := range candidates {
		t.Row(
			strconv.Itoa(i+1),
			c.SpeciesID,
			c.Canonical,
			c.TileName,
			c.Alias,
			string(c.Kind),
			strconv.FormatFloat(c.Score, 'f', 3, 64),
		)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
