package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Name of the binary
const Name = "keydist"

// Build information, set with -ldflags "-X github.com/kamikazebr/keydist/pkg/version.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GitDirty  = ""
)

// Info describes the running build
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	Dirty     bool   `json:"dirty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the build information. When the binary was built without
// ldflags, the commit falls back to the VCS stamp embedded by the Go toolchain.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildTime,
		Dirty:     GitDirty == "true",
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	if info.Commit != "unknown" {
		return info
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if len(s.Value) > 7 {
				info.Commit = s.Value[:7]
			} else {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.BuildTime == "unknown" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			info.Dirty = info.Dirty || s.Value == "true"
		}
	}
	return info
}

// Short formats the info on one line:
// keydist 0.3.0 (abc1234 2026-02-14T21:51:00Z)
func (i Info) Short() string {
	commit := i.Commit
	if i.Dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s %s (%s %s)", Name, i.Version, commit, i.BuildTime)
}

// Detail formats the info for the version command
func (i Info) Detail() string {
	tree := "clean"
	if i.Dirty {
		tree = "dirty"
	}
	return fmt.Sprintf("Version:    %s\nGit commit: %s (%s)\nBuilt:      %s\nGo version: %s\nPlatform:   %s",
		i.Version, i.Commit, tree, i.BuildTime, i.GoVersion, i.Platform)
}

// UserAgent is sent with key server requests
func UserAgent() string {
	return Name + "/" + Version
}
