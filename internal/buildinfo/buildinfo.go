// Package buildinfo reports the version stamped into a binary, e.g.
//
//	go build -ldflags "-X github.com/pixelartvj/officesync/internal/buildinfo.Version=1.4.0"
package buildinfo

import (
	"fmt"
	"io"
	"runtime/debug"
)

const unknown = "N/A"

// Set with -ldflags -X.
var (
	Version = ""
	Date    = ""
	Commit  = ""
)

// Info is the resolved build data.
type Info struct {
	Version string
	Date    string
	Commit  string
}

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

// Get returns the ldflags values, falling back to the VCS data the Go
// toolchain embeds and then to "N/A".
func Get() Info {
	info := Info{Version: Version, Date: Date, Commit: Commit}

	if bi, ok := readBuildInfo(); ok {
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && info.Commit == "":
				info.Commit = s.Value
			case s.Key == "vcs.time" && info.Date == "":
				info.Date = s.Value
			}
		}
	}

	for _, f := range []*string{&info.Version, &info.Date, &info.Commit} {
		if *f == "" {
			*f = unknown
		}
	}
	return info
}

// Print writes the banner shown when a binary starts.
func Print(w io.Writer) {
	i := Get()
	fmt.Fprintf(w, "Build version: %s\nBuild date: %s\nBuild commit: %s\n", i.Version, i.Date, i.Commit)
}
