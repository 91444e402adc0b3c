// Package cmd assembles the fieldalias command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/fieldalias/cmd/cache"
	"github.com/tphakala/fieldalias/cmd/flush"
	"github.com/tphakala/fieldalias/cmd/query"
	"github.com/tphakala/fieldalias/cmd/seed"
	"github.com/tphakala/fieldalias/cmd/serve"
	"github.com/tphakala/fieldalias/cmd/teach"
	"github.com/tphakala/fieldalias/internal/app"
	"github.com/tphakala/fieldalias/internal/buildinfo"
	"github.com/tphakala/fieldalias/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(ctx *app.Context) *cobra.Command {
	var debug bool

	rootCmd := &cobra.Command{
		Use:           "fieldalias",
		Short:         "Field alias index for species names",
		Long:          "Resolve colloquial, dialect and misheard species names to catalog species, and learn new aliases in the field.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       buildinfo.Get().String(),
	}

	// Set up the global flags for the root command.
	rootCmd.PersistentFlags().StringVarP(&ctx.ConfigFile, "config", "c", "", "Config file (default ./config.yaml, ~/.config/fieldalias/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")

	// Add sub-commands to the root command.
	rootCmd.AddCommand(
		seed.Command(ctx),
		query.Command(ctx),
		teach.Command(ctx),
		flush.Command(ctx),
		cache.RebuildCommand(ctx),
		cache.InspectCommand(ctx),
		serve.Command(ctx),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if ctx.Settings == nil {
			settings, err := conf.Load(ctx.ConfigFile)
			if err != nil {
				return err
			}
			ctx.Settings = settings
		}
		// command-line flags take precedence over the config file
		if cmd.Flags().Changed("debug") {
			ctx.Settings.Debug = debug
		}
		return ctx.Setup()
	}

	return rootCmd
}
