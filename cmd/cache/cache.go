// Package cache implements the rebuild-cache and inspect-cache commands.
package cache

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/tphakala/fieldalias/internal/alias"
	"github.com/tphakala/fieldalias/internal/app"
	"github.com/tphakala/fieldalias/internal/store"
)

// RebuildCommand creates the rebuild-cache command.
func RebuildCommand(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-cache",
		Short: "Regenerate the binary cache from the Master",
		Long: `Regenerate the binary fast-load cache from the YAML Master. Use it after
editing the Master by hand while no serve process is running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.Store()
			if err != nil {
				return err
			}
			m, err := st.ReadMaster(cmd.Context())
			if err != nil {
				return err
			}
			if err := st.RebuildCache(cmd.Context(), m); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "cache rebuilt: %d aliases, master version %d\n",
				m.AliasCount(), m.Version)
			return err
		},
	}
}

// InspectCommand creates the inspect-cache command.
func InspectCommand(ctx *app.Context) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "inspect-cache",
		Short: "Validate the binary cache and print its header",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := ctx.FS()
			if err != nil {
				return err
			}
			if file == "" {
				file = ctx.Settings.Storage.CacheFile
			}
			data, err := fs.ReadFile(file)
			if err != nil {
				return err
			}
			report, err := Inspect(data)
			if err != nil {
				return err
			}
			return report.Write(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Cache file inside the storage root (default storage.cachefile)")

	return cmd
}

// Report describes a decoded cache file.
type Report struct {
	Header    store.Header
	Version   uint32
	Species   int
	Records   int
	BySource  map[alias.Source]int
	Signed    int
	Catalog   string
	FileBytes int
}

// Inspect decodes data fully; any integrity failure is returned.
func Inspect(data []byte) (*Report, error) {
	h, err := store.DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	idx, err := store.DecodeCache(data)
	if err != nil {
		return nil, err
	}
	r := &Report{
		Header:    h,
		Version:   idx.Version,
		Species:   len(idx.SpeciesIDs()),
		Records:   idx.Len(),
		BySource:  make(map[alias.Source]int),
		Catalog:   idx.Fingerprint,
		FileBytes: len(data),
	}
	for i := range idx.Records {
		rec := &idx.Records[i]
		r.BySource[rec.Source]++
		if rec.Signature != nil {
			r.Signed++
		}
	}
	return r, nil
}

// Write prints the report as aligned key/value lines.
func (r *Report) Write(w io.Writer) error {
	lines := [][2]string{
		{"format version", fmt.Sprint(r.Header.FormatVersion)},
		{"codec", fmt.Sprint(r.Header.Codec)},
		{"compression", fmt.Sprint(r.Header.Compression)},
		{"file size", fmt.Sprintf("%d bytes", r.FileBytes)},
		{"payload", fmt.Sprintf("%d bytes (%d uncompressed)", r.Header.PayloadLength, r.Header.UncompressedLength)},
		{"payload crc", fmt.Sprintf("%08x", r.Header.PayloadCRC)},
		{"index version", fmt.Sprint(r.Version)},
		{"catalog", r.Catalog},
		{"species", fmt.Sprint(r.Species)},
		{"records", fmt.Sprint(r.Records)},
		{"with signatures", fmt.Sprint(r.Signed)},
	}
	sources := make([]alias.Source, 0, len(r.BySource))
	for s := range r.BySource {
		sources = append(sources, s)
	}
	slices.Sort(sources)
	for _, s := range sources {
		lines = append(lines, [2]string{"  " + string(s), fmt.Sprint(r.BySource[s])})
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%-18s %s\n", l[0]+":", l[1]); err != nil {
			return err
		}
	}
	return nil
}
