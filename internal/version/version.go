package version

import (
	"fmt"
	"runtime"
)

// Build metadata, overridden with -ldflags "-X marketsnap/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the build metadata for the version command and the user agent.
func String() string {
	return fmt.Sprintf("marketsnap %s (commit %s, built %s, %s)", Version, Commit, BuildDate, runtime.Version())
}

// UserAgent is the default HTTP user agent sent to the exchange.
func UserAgent() string {
	return "marketsnap/" + Version
}
