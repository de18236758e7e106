package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func withBuild(t *testing.T, version, commit, buildTime, dirty string) {
	t.Helper()
	origVersion, origCommit, origTime, origDirty := Version, GitCommit, BuildTime, GitDirty
	t.Cleanup(func() {
		Version, GitCommit, BuildTime, GitDirty = origVersion, origCommit, origTime, origDirty
	})
	Version, GitCommit, BuildTime, GitDirty = version, commit, buildTime, dirty
}

func TestInfo_Short(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{
			name: "clean build",
			info: Info{Version: "v1.0.0", Commit: "abc1234", BuildTime: "2026-01-01T12:00:00Z"},
			want: "keydist v1.0.0 (abc1234 2026-01-01T12:00:00Z)",
		},
		{
			name: "dirty build",
			info: Info{Version: "v1.0.0", Commit: "abc1234", BuildTime: "2026-01-01T12:00:00Z", Dirty: true},
			want: "keydist v1.0.0 (abc1234-dirty 2026-01-01T12:00:00Z)",
		},
		{
			name: "dev build",
			info: Info{Version: "dev", Commit: "unknown", BuildTime: "unknown"},
			want: "keydist dev (unknown unknown)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.Short())
		})
	}
}

func TestGet_FromLdflags(t *testing.T) {
	withBuild(t, "v1.2.3", "def5678", "2026-01-15T10:00:00Z", "true")

	info := Get()
	assert.Equal(t, "v1.2.3", info.Version)
	assert.Equal(t, "def5678", info.Commit)
	assert.Equal(t, "2026-01-15T10:00:00Z", info.BuildTime)
	assert.True(t, info.Dirty)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}

func TestInfo_Detail(t *testing.T) {
	info := Info{Version: "v1.2.3", Commit: "abc1234", BuildTime: "2026-01-15T10:00:00Z", GoVersion: "go1.24.0", Platform: "linux/amd64"}

	detail := info.Detail()
	assert.Contains(t, detail, "Version:    v1.2.3")
	assert.Contains(t, detail, "Git commit: abc1234 (clean)")
	assert.Contains(t, detail, "Built:      2026-01-15T10:00:00Z")
	assert.Contains(t, detail, "Platform:   linux/amd64")

	info.Dirty = true
	assert.Contains(t, info.Detail(), "(dirty)")
}

func TestUserAgent(t *testing.T) {
	withBuild(t, "v0.4.0", "unknown", "unknown", "")
	assert.Equal(t, "keydist/v0.4.0", UserAgent())
}
