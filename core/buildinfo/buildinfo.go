// Package buildinfo reports what binary is running. Release builds set the
// variables with -ldflags:
//
//	-X 'github.com/m3rciful/dialogbot/core/buildinfo.Version=v0.4.0'
//	-X 'github.com/m3rciful/dialogbot/core/buildinfo.Commit=abcdef0'
//	-X 'github.com/m3rciful/dialogbot/core/buildinfo.Date=2026-10-01T12:00:00Z'
package buildinfo

import (
	"runtime/debug"
	"strings"
)

// Version, Commit and Date describe the build; Date is RFC 3339.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

func init() {
	if Commit != "" {
		return
	}
	// go build records the VCS revision of local builds.
	Commit = "local"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			Commit = s.Value[:min(len(s.Value), 7)]
		case "vcs.time":
			if Date == "" {
				Date = s.Value
			}
		}
	}
}

// String renders the version line of the CLI.
func String() string {
	parts := []string{Version, "(" + Commit}
	if Date != "" {
		parts[1] += ", " + Date
	}
	parts[1] += ")"
	return strings.Join(parts, " ")
}
