// Package flush implements the flush command.
package flush

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tphakala/fieldalias/cmd/teach"
	"github.com/tphakala/fieldalias/internal/app"
	"github.com/tphakala/fieldalias/internal/engine"
	"github.com/tphakala/fieldalias/internal/errors"
	"github.com/tphakala/fieldalias/internal/logger"
)

// Command creates the flush command. It teaches a batch of aliases read
// from a file or stdin and forces them into the Master in one write.
func Command(ctx *app.Context) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Teach a batch of aliases and persist them immediately",
		Long: `Read "species-id;alias[;canonical[;tile]]" lines from --from or stdin,
teach each alias and force a single flush to the Master and cache.
Lines that are blank or start with # are ignored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if from != "" && from != "-" {
				f, err := os.Open(from)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			e, err := ctx.Engine(cmd.Context())
			if err != nil && !errors.Is(err, engine.ErrNoIndex) {
				return err
			}

			res, err := teach.Batch(e, bufio.NewScanner(r))
			if err != nil {
				return err
			}
			for _, rej := range res.Rejected {
				logger.Global().Module("cli").Warn("alias not taught",
					logger.Int("line", rej.Line),
					logger.String("reason", rej.Reason))
			}
			if err := e.ForceFlush(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "taught %d aliases, rejected %d\n",
				res.Taught, len(res.Rejected))
			return err
		},
	}

	cmd.Flags().StringVarP(&from, "from", "f", "", `File with one alias per line ("-" or empty reads stdin)`)

	return cmd
}
