// Package version exposes build metadata stamped in at link time via
// -ldflags "-X github.com/gcpkit/gcpkit/pkg/version.Version=v1.2.3 ...".
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version of the build.
	Version = "dev"
	// Commit is the git commit the binary was built from.
	Commit = "none"
	// Date is the build timestamp.
	Date = "unknown"
)

// String returns the single-line version string used by the CLI.
func String() string {
	return fmt.Sprintf("gcpkit %s (commit %s, built %s, %s/%s)",
		Version, Commit, Date, runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version number.
func Short() string {
	return Version
}
