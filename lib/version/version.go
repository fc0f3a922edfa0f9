// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty indicates whether there were uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version. This is set manually for releases.
	Version = "0.1.0-dev"
)

type stamp struct {
	commit string
	dirty  bool
	time   string
}

var resolved = sync.OnceValue(func() stamp {
	current := stamp{commit: GitCommit, dirty: GitDirty == "true", time: BuildTime}
	if current.commit != "unknown" {
		return current
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return current
	}
	return fromSettings(current, info.Settings)
})

// fromSettings fills unknown fields from the toolchain's vcs.* settings.
func fromSettings(current stamp, settings []debug.BuildSetting) stamp {
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			current.commit = setting.Value
			if len(current.commit) > 7 {
				current.commit = current.commit[:7]
			}
		case "vcs.modified":
			current.dirty = setting.Value == "true"
		case "vcs.time":
			if current.time == "unknown" {
				current.time = setting.Value
			}
		}
	}
	return current
}

// Info returns a formatted version string suitable for --version output.
func Info() string {
	return format(Version, resolved())
}

func format(version string, s stamp) string {
	dirty := ""
	if s.dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", version, s.commit, dirty, s.time)
}

// Full returns detailed version information including Go version.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version number.
func Short() string {
	return Version
}

// Commit returns the git commit SHA.
func Commit() string {
	return resolved().commit
}

// UserAgent identifies go2link in HTTP requests to the robot and cloud.
func UserAgent() string {
	return "go2link/" + Version
}
