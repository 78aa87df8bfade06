package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func restoreVersion(t *testing.T) {
	v, r, d := Version, Revision, BuildDate
	t.Cleanup(func() {
		Version, Revision, BuildDate = v, r, d
	})
}

func TestVersionStrings(t *testing.T) {
	restoreVersion(t)
	Version, Revision, BuildDate = "1.0.0", "abc123", ""

	assert.Equal(t, "1.0.0 (abc123)", Short())
	assert.True(t, strings.HasPrefix(ShortWithApp(), AppName+" "))
	assert.Contains(t, Detailed(), "unknown")
	assert.Contains(t, Detailed(), "/")
	assert.Contains(t, UserAgent(), AppName+"/1.0.0")
}

func TestFillFromBuildInfo(t *testing.T) {
	tests := []struct {
		name         string
		version      string
		revision     string
		buildDate    string
		mainVersion  string
		settings     map[string]string
		wantVersion  string
		wantRevision string
		wantDate     string
	}{
		{
			name:        "dev build picks up vcs data",
			version:     devVersion,
			revision:    "HEAD",
			mainVersion: "v2.0.1",
			settings: map[string]string{
				"vcs.revision": "0123456789abcdef",
				"vcs.modified": "true",
				"vcs.time":     "2025-06-01T10:00:00Z",
			},
			wantVersion:  "2.0.1",
			wantRevision: "0123456789ab+dirty",
			wantDate:     "2025-06-01T10:00:00Z",
		},
		{
			name:         "ldflags win",
			version:      "1.2.3",
			revision:     "deadbeef",
			buildDate:    "ldflags",
			mainVersion:  "v9.9.9",
			settings:     map[string]string{"vcs.revision": "ffff", "vcs.time": "later"},
			wantVersion:  "1.2.3",
			wantRevision: "deadbeef",
			wantDate:     "ldflags",
		},
		{
			name:         "devel main version is ignored",
			version:      devVersion,
			revision:     "HEAD",
			mainVersion:  "(devel)",
			settings:     map[string]string{},
			wantVersion:  devVersion,
			wantRevision: "HEAD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restoreVersion(t)
			Version, Revision, BuildDate = tt.version, tt.revision, tt.buildDate

			fillFromBuildInfo(tt.mainVersion, tt.settings)

			assert.Equal(t, tt.wantVersion, Version)
			assert.Equal(t, tt.wantRevision, Revision)
			assert.Equal(t, tt.wantDate, BuildDate)
		})
	}
}
