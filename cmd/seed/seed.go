// Package seed implements the seed command.
package seed

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/fieldalias/internal/app"
	"github.com/tphakala/fieldalias/internal/store"
)

// Command creates the seed command, which loads the alias index and
// builds it from the catalog when no Master exists yet.
func Command(ctx *app.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Build the alias index from the species catalog",
		Long: `Load the alias index, seeding the Master from the configured catalog
when none exists. An existing Master is kept; when the catalog has changed
the index is regenerated and field-trained aliases are carried over.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.Store()
			if err != nil {
				return err
			}
			res := st.Load(cmd.Context())
			if res.Outcome != store.OutcomeOK {
				if res.Err != nil {
					return res.Err
				}
				return fmt.Errorf("alias index unavailable: %s", res.Outcome)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "alias index ready: %d records from %s (version %d)\n",
				res.Index.Len(), res.Origin, res.Index.Version)
			return err
		},
	}

	return cmd
}
