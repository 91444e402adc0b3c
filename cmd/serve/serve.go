// Package serve implements the interactive serve command.
package serve

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tphakala/fieldalias/cmd/query"
	"github.com/tphakala/fieldalias/cmd/teach"
	"github.com/tphakala/fieldalias/internal/alias"
	"github.com/tphakala/fieldalias/internal/app"
	"github.com/tphakala/fieldalias/internal/engine"
	"github.com/tphakala/fieldalias/internal/errors"
	"github.com/tphakala/fieldalias/internal/logger"
	"github.com/tphakala/fieldalias/internal/matcher"
	"github.com/tphakala/fieldalias/internal/observability"
	"github.com/tphakala/fieldalias/internal/watcher"
)

const help = `type a heard name to query, or one of:
  :teach species-id;alias[;canonical[;tile]]
  :flush     persist pending aliases
  :reload    merge an edited Master now
  :stats     show index state
  :quit      exit`

// Session is the engine surface used by the loop.
type Session interface {
	QueryN(token string, limit int) []matcher.Candidate
	AddAlias(speciesID, aliasText, canonical, tileName string) bool
	Snapshot() *alias.Index
	ForceFlush(ctx context.Context) error
	ReloadMaster(ctx context.Context) (bool, error)
	Stats() engine.Stats
}

// Command creates the serve command.
func Command(ctx *app.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Resolve names interactively from stdin",
		Long: `Read heard names from stdin and print ranked candidates. Taught aliases
are persisted in the background. When enabled, the storage root is watched
for Master edits and metrics are served on metrics.listen; a metrics summary
is printed on exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, ctx)
		},
	}
	return cmd
}

func run(cmd *cobra.Command, ctx *app.Context) error {
	log := logger.Global().Module("serve")
	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := ctx.Engine(runCtx)
	if err != nil && !errors.Is(err, engine.ErrNoIndex) {
		return err
	}
	if err != nil {
		log.Warn("starting without an alias index, queries return nothing until one is seeded")
	}

	var wg sync.WaitGroup
	quit := make(chan struct{})
	if ctx.Metrics != nil && ctx.Settings.Metrics.Listen != "" {
		endpoint, err := observability.NewEndpoint(ctx.Settings.Metrics.Listen, ctx.Metrics)
		if err != nil {
			return err
		}
		endpoint.Start(&wg, quit)
	}

	if ctx.Settings.Watcher.Enabled {
		fs, err := ctx.FS()
		if err != nil {
			return err
		}
		w, err := watcher.New(fs.BaseDir(), ctx.Settings.Storage.MasterFile, e,
			watcher.WithDebounce(ctx.Settings.Watcher.Debounce))
		if err != nil {
			return err
		}
		if err := w.Start(runCtx); err != nil {
			return err
		}
		defer w.Stop()
	}

	loopErr := Loop(runCtx, e, cmd.InOrStdin(), cmd.OutOrStdout())

	close(quit)
	wg.Wait()
	if err := e.Close(context.WithoutCancel(runCtx)); err != nil {
		log.Error("final flush failed", logger.Error(err))
	}
	if ctx.Metrics != nil {
		if err := ctx.Metrics.WriteSummary(cmd.ErrOrStderr()); err != nil {
			log.Warn("metrics summary failed", logger.Error(err))
		}
	}
	return loopErr
}

// Loop reads commands from in until EOF, :quit or ctx is done.
func Loop(ctx context.Context, s Session, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	if _, err := fmt.Fprintln(out, help); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			done, err := handle(ctx, s, strings.TrimSpace(line), out)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func handle(ctx context.Context, s Session, line string, out io.Writer) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, ":") {
		return false, query.RenderCandidates(out, line, s.QueryN(line, 0))
	}

	command, rest, _ := strings.Cut(line[1:], " ")
	var err error
	switch command {
	case "quit", "q", "exit":
		return true, nil
	case "teach", "t":
		err = teachOne(s, rest, out)
	case "flush":
		if ferr := s.ForceFlush(ctx); ferr != nil {
			_, err = fmt.Fprintf(out, "flush failed: %v\n", ferr)
		} else {
			_, err = fmt.Fprintln(out, "flushed")
		}
	case "reload":
		reloaded, rerr := s.ReloadMaster(ctx)
		switch {
		case rerr != nil:
			_, err = fmt.Fprintf(out, "reload failed: %v\n", rerr)
		case reloaded:
			_, err = fmt.Fprintln(out, "master merged")
		default:
			_, err = fmt.Fprintln(out, "master unchanged")
		}
	case "stats":
		st := s.Stats()
		_, err = fmt.Fprintf(out, "records=%d pending=%d generation=%d origin=%s flushing=%t memo=%d/%d\n",
			st.Records, st.Pending, st.Generation, st.Origin, st.FlushRunning, st.MemoHits, st.MemoHits+st.MemoMisses)
	default:
		_, err = fmt.Fprintln(out, help)
	}
	return false, err
}

func teachOne(s Session, arg string, out io.Writer) error {
	entry, reason, ok := teach.ParseLine(arg)
	if !ok {
		reason = "expected species-id;alias"
	}
	if reason != "" {
		_, err := fmt.Fprintln(out, reason)
		return err
	}
	if !entry.Fill(s.Snapshot()) {
		_, err := fmt.Fprintf(out, "unknown species %q\n", entry.SpeciesID)
		return err
	}
	if !s.AddAlias(entry.SpeciesID, entry.Alias, entry.Canonical, entry.TileName) {
		_, err := fmt.Fprintf(out, "not taught: %q is blank, known or bound to another species\n", entry.Alias)
		return err
	}
	_, err := fmt.Fprintf(out, "taught %q for %s\n", entry.Alias, entry.SpeciesID)
	return err
}
