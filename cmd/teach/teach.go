// Package teach implements the teach command.
package teach

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/fieldalias/internal/alias"
	"github.com/tphakala/fieldalias/internal/app"
	"github.com/tphakala/fieldalias/internal/engine"
	"github.com/tphakala/fieldalias/internal/errors"
)

// Command creates the teach command for adding a field-trained alias.
func Command(ctx *app.Context) *cobra.Command {
	var canonical, tile string

	cmd := &cobra.Command{
		Use:   "teach <species-id> <alias>",
		Short: "Teach an alias for a species",
		Long: `Bind a new alias to a species. The alias is matched immediately and
written to the Master before the command exits. Canonical and tile names
default to the ones already indexed for the species.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			// aliases can be taught before any index exists
			e, err := ctx.Engine(cmd.Context())
			if err != nil && !errors.Is(err, engine.ErrNoIndex) {
				return err
			}

			entry := Entry{
				SpeciesID: args[0],
				Alias:     strings.Join(args[1:], " "),
				Canonical: canonical,
				TileName:  tile,
			}
			if !entry.Fill(e.Snapshot()) {
				return errors.Newf("unknown species %q, pass --canonical to add it", entry.SpeciesID).
					Component("cli").
					Category(errors.CategoryNotFound).
					Build()
			}

			if !e.AddAlias(entry.SpeciesID, entry.Alias, entry.Canonical, entry.TileName) {
				return errors.Newf("alias %q was not added: blank, already known or bound to another species", entry.Alias).
					Component("cli").
					Category(errors.CategoryValidation).
					Build()
			}
			if err := e.ForceFlush(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "taught %q for %s\n", entry.Alias, entry.SpeciesID)
			return err
		},
	}

	cmd.Flags().StringVar(&canonical, "canonical", "", "Canonical name of the species")
	cmd.Flags().StringVar(&tile, "tile", "", "Display name of the species")

	return cmd
}

// Lookup returns the canonical and tile name indexed for speciesID.
func Lookup(idx *alias.Index, speciesID string) (canonical, tile string, ok bool) {
	if idx == nil {
		return "", "", false
	}
	for i := range idx.Records {
		if r := &idx.Records[i]; r.SpeciesID == speciesID {
			return r.Canonical, r.TileName, true
		}
	}
	return "", "", false
}
