// Package version holds build metadata set via -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time:
//
//	go build -ldflags "-X costtrace/internal/version.Version=v1.0.0 -X costtrace/internal/version.Commit=$(git rev-parse --short HEAD)"
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a single-line description of the build.
func Info() string {
	return fmt.Sprintf("costtrace %s (commit %s, built %s, %s)", Version, Commit, Date, runtime.Version())
}
