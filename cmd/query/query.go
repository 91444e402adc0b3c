// Package query implements the query command.
package query

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/fieldalias/internal/app"
)

// Command creates the query command for resolving a heard token.
func Command(ctx *app.Context) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "query <token>",
		Short: "Resolve a heard name to ranked species candidates",
		Long: `Resolve a heard name, possibly misspelled or in a dialect, to the
species it most likely refers to. Exact aliases rank first, followed by
phonetic matches and, in rich mode, character-signature matches.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := ctx.Engine(cmd.Context())
			if err != nil {
				return err
			}
			return RenderCandidates(cmd.OutOrStdout(), args[0], e.QueryN(args[0], limit))
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of candidates (0 uses matcher.limit)")

	return cmd
}
