// Package buildinfo carries version metadata stamped in at link time via
// -ldflags "-X github.com/x-stp/bitsquat/internal/buildinfo.Version=...".
package buildinfo

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func String() string {
	return fmt.Sprintf("bitsquat %s (commit=%s, date=%s)", Version, Commit, Date)
}
