package version

import (
	"fmt"
	"runtime"
)

// Version is set via ldflags in release builds:
// go build -ldflags "-X git.home.luguber.info/inful/sitedev/internal/version.Version=v0.3.0".
var Version = "unknown"

var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String renders the build information for `sitedev version`.
func String() string {
	return fmt.Sprintf("sitedev %s\n  commit: %s\n  built:  %s\n  go:     %s\n",
		Version, GitCommit, BuildTime, runtime.Version())
}
