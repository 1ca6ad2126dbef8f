// Package version exposes build metadata for the sitegen binaries.
// The package-level variables are overwritten with -ldflags at build time.
package version

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

var (
	// Version is the release tag or short commit of the build.
	// Set via: -ldflags "-X sitegen/internal/version.Version=..."
	Version = "dev"

	// BuildDate is the RFC 3339 UTC time the binary was built.
	// Set via: -ldflags "-X sitegen/internal/version.BuildDate=..."
	BuildDate = "unknown"

	// GitCommit is the full commit SHA of the build.
	// Set via: -ldflags "-X sitegen/internal/version.GitCommit=..."
	GitCommit = "unknown"
)

// Info is the build metadata plus per-process identity.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns the build metadata. The instance ID is generated on the
// first call and stays fixed for the life of the process, so every replica
// sharing a counter store reports a distinct identity.
func GetInfo() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.New().String(),
			Hostname:   getHostname(),
		}
	})
	return info
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "unknown"
	}
	return hostname
}

// String formats version info for CLI display.
func (i Info) String() string {
	return fmt.Sprintf("sitegen version %s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildDate)
}

// UserAgent is sent on outbound calls to the LLM provider.
func (i Info) UserAgent() string {
	return "sitegen/" + i.Version
}
