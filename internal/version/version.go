// Package version provides application version and build info.
//
//nolint:revive
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	// Version is the current version of the application.
	// It can be overridden by ldflags at build time.
	Version = "dev"
	// CommitHash is the git commit hash at build time.
	// It can be overridden by ldflags at build time.
	CommitHash = ""
	// BuildTime is the time when the application was built.
	// It can be overridden by ldflags at build time.
	BuildTime = ""

	readOnce sync.Once
)

// Info is the build description served by the status API and the version command.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
}

func fillFromBuildInfo() {
	readOnce.Do(func() {
		if CommitHash != "" {
			return
		}
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				CommitHash = setting.Value
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	})
}

// Get returns the current build information.
func Get() Info {
	fillFromBuildInfo()
	return Info{
		Version:   Version,
		Commit:    shortHash(CommitHash),
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// GetInfo returns a formatted version string including the version and commit hash.
func GetInfo() string {
	info := Get()
	if info.Commit == "" {
		return info.Version
	}
	return fmt.Sprintf("%s (%s)", info.Version, info.Commit)
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
