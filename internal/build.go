// Package internal exposes build information stamped by the Go toolchain.
package internal

import (
	"runtime/debug"
	"time"
)

// Build information from the VCS at build time. Migrations record these
// so a database can tell which build last touched it.
var (
	BuildRevision     = "unknown"
	BuildRevisionTime = time.Time{}
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			BuildRevision = setting.Value
		case "vcs.time":
			t, err := time.Parse(time.RFC3339, setting.Value)
			if err != nil {
				continue
			}
			BuildRevisionTime = t
		}
	}
}
