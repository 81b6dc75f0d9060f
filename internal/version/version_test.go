package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetInfo_ReflectsPackageVars(t *testing.T) {
	origVersion, origBuild, origCommit := Version, BuildTime, Commit
	defer func() { Version, BuildTime, Commit = origVersion, origBuild, origCommit }()

	Version, BuildTime, Commit = "v1.2.3", "2026-07-29T00:00:00Z", "abc123"

	info := GetInfo()
	assert.Equal(t, "v1.2.3", info.Version)
	assert.Equal(t, "2026-07-29T00:00:00Z", info.BuildTime)
	assert.Equal(t, "abc123", info.Commit)
}
