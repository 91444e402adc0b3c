// Package buildinfo holds build-time metadata injected with -ldflags.
package buildinfo

import (
	"runtime/debug"
	"sync"
)

// UnknownValue is reported for metadata that was not injected.
const UnknownValue = "unknown"

// Set with -ldflags "-X github.com/tphakala/fieldalias/internal/buildinfo.version=...".
var (
	version   string
	buildDate string
	commit    string
)

// Info is the build metadata of the running binary.
type Info struct {
	Version   string
	BuildDate string
	Commit    string
}

// String formats the metadata for --version output.
func (i Info) String() string {
	return i.Version + " (" + i.Commit + ", built " + i.BuildDate + ")"
}

var (
	once   sync.Once
	cached Info
)

// Get returns the injected metadata. Missing values fall back to the
// module version and VCS settings recorded by the Go toolchain.
func Get() Info {
	once.Do(func() {
		cached = resolve(version, buildDate, commit, debug.ReadBuildInfo)
	})
	return cached
}

func resolve(v, date, rev string, read func() (*debug.BuildInfo, bool)) Info {
	info := Info{Version: v, BuildDate: date, Commit: rev}
	if bi, ok := read(); ok && bi != nil {
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" && len(s.Value) >= 7 {
					info.Commit = s.Value[:7]
				}
			case "vcs.time":
				if info.BuildDate == "" {
					info.BuildDate = s.Value
				}
			}
		}
	}
	if info.Version == "" {
		info.Version = UnknownValue
	}
	if info.BuildDate == "" {
		info.BuildDate = UnknownValue
	}
	if info.Commit == "" {
		info.Commit = UnknownValue
	}
	return info
}
