// Package version holds build metadata injected with -ldflags -X.
package version

import "fmt"

var (
	Version   = "v0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info returns a one-line description of the running build.
func Info() string {
	return fmt.Sprintf("kaiwa %s (%s) built at %s", Version, GitCommit, BuildTime)
}
