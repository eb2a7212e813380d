// Package buildinfo holds application metadata set at build time.
//
// Release builds set the version with ldflags:
//
//	go build -ldflags "\
//	  -X github.com/dotside-studios/davi-nfc-session/buildinfo.Version=1.0.0 \
//	  -X github.com/dotside-studios/davi-nfc-session/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/dotside-studios/davi-nfc-session/buildinfo.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package buildinfo

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	// Name is the technical application name
	Name = "davi-nfc-session"

	// DirName is the config and data directory name under user paths
	DirName = "davi-nfc-session"

	// DisplayName is used for the tray, mDNS and titles
	DisplayName = "Davi NFC Session"

	Description = "NFC session manager with WebSocket clients and a companion phone bridge"

	// Version is the semantic version (set via ldflags for releases)
	Version = "dev"

	Commit    = ""
	BuildTime = ""
)

// FullVersion returns the version with the commit appended when known,
// e.g. "1.0.0 (abc1234)".
func FullVersion() string {
	if Commit != "" {
		return fmt.Sprintf("%s (%s)", Version, Commit)
	}
	return Version
}

// UserAgent returns "davi-nfc-session/<version>".
func UserAgent() string {
	return Name + "/" + Version
}

// BuildInfo returns a multi-line description of the build.
func BuildInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", Name, FullVersion())
	fmt.Fprintf(&b, "  %s\n", Description)
	fmt.Fprintf(&b, "  Go: %s\n", runtime.Version())
	fmt.Fprintf(&b, "  OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH)
	if BuildTime != "" {
		fmt.Fprintf(&b, "\n  Built: %s", BuildTime)
	}
	return b.String()
}

// IsDev reports whether this is a development build.
func IsDev() bool {
	return Version == "dev"
}
