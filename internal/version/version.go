// Package version provides build version information.
package version

import "runtime"

// Version is overridden at build time via ldflags.
// Example: go build -ldflags "-X github.com/graaaaa/activity-telemetry/internal/version.Version=0.1.0"
var Version = "dev"

// String returns the current version string.
func String() string {
	return Version
}

// UserAgent returns the User-Agent sent by component, e.g. "trackctl/0.1.0 (linux)".
func UserAgent(component string) string {
	return component + "/" + Version + " (" + runtime.GOOS + ")"
}
