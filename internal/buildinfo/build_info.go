// Package buildinfo describes the build of the socialdb binary.
package buildinfo

import (
	"fmt"
	"runtime/debug"
)

const unknown = "n/a"

// BuildInfo holds the version, VCS revision and build date of an executable.
type BuildInfo struct {
	Version    string
	CommitHash string
	BuildDate  string
}

// New returns the build info set at link time. Fields left empty or at "dev"/"n/a" are filled
// from the module and VCS data embedded by the Go toolchain, when available.
func New(version, commitHash, buildDate string) BuildInfo {
	ret := BuildInfo{Version: version, CommitHash: commitHash, BuildDate: buildDate}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ret.withDefaults()
	}

	if (ret.Version == "" || ret.Version == "dev") && info.Main.Version != "" && info.Main.Version != "(devel)" {
		ret.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if ret.CommitHash == "" || ret.CommitHash == unknown {
				ret.CommitHash = s.Value
			}
		case "vcs.time":
			if ret.BuildDate == "" || ret.BuildDate == "<unknown>" {
				ret.BuildDate = s.Value
			}
		}
	}

	return ret.withDefaults()
}

func (i BuildInfo) withDefaults() BuildInfo {
	if i.Version == "" {
		i.Version = "dev"
	}
	if i.CommitHash == "" {
		i.CommitHash = unknown
	}
	if i.BuildDate == "" {
		i.BuildDate = "<unknown>"
	}
	return i
}

// String returns the build info as a string.
func (i BuildInfo) String() string {
	return fmt.Sprintf("version %s (%s) built on %s", i.Version, i.CommitHash, i.BuildDate)
}
