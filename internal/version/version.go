// Package version carries build metadata stamped in with -ldflags:
//
//	go build -ldflags "-X github.com/banshee-data/canopy.report/internal/version.Version=v0.3.0"
package version

import "fmt"

var (
	// Version is the release tag, or "dev" for local builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for display and for run records.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
