package version

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	withDefaults(t, "1.4.0", "0123456789ab", "2025-05-01T10:00:00Z")

	info := Get()
	assert.Equal(t, AppName, info.App)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)

	want := "1.4.0 (0123456789ab; " + runtime.Version() + "; " + info.Platform + "; 2025-05-01T10:00:00Z)"
	assert.Equal(t, want, Detailed())
	assert.Equal(t, "s3sync "+want, info.String())
	assert.Equal(t, "s3sync/1.4.0", UserAgent())
}

func withDefaults(t *testing.T, version, revision, date string) {
	t.Helper()
	origVersion, origRevision, origBuildDate := Version, Revision, BuildDate
	t.Cleanup(func() {
		Version, Revision, BuildDate = origVersion, origRevision, origBuildDate
	})
	Version, Revision, BuildDate = version, revision, date
}

func TestFillFromBuildInfo(t *testing.T) {
	tests := []struct {
		name                       string
		version, revision, date    string
		main                       string
		settings                   []debug.BuildSetting
		wantVer, wantRev, wantDate string
	}{
		{
			name:     "fills dev defaults",
			version:  devVersion,
			revision: unknownRev,
			main:     "v9.9.9",
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "abcdef1234567890"},
				{Key: "vcs.modified", Value: "true"},
				{Key: "vcs.time", Value: "2025-12-12T01:00:00Z"},
			},
			wantVer:  "9.9.9",
			wantRev:  "abcdef123456-dirty",
			wantDate: "2025-12-12T01:00:00Z",
		},
		{
			name:     "devel main version is ignored",
			version:  devVersion,
			revision: unknownRev,
			main:     "(devel)",
			settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc"}},
			wantVer:  devVersion,
			wantRev:  "abc",
		},
		{
			name:     "ldflags win",
			version:  "1.2.3",
			revision: "deadbeef",
			date:     "from-ldflags",
			main:     "v9.9.9",
			settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abcdef"}, {Key: "vcs.time", Value: "2025-12-12T01:00:00Z"}},
			wantVer:  "1.2.3",
			wantRev:  "deadbeef",
			wantDate: "from-ldflags",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withDefaults(t, tt.version, tt.revision, tt.date)
			fillFromBuildInfo(tt.main, tt.settings)
			assert.Equal(t, tt.wantVer, Version)
			assert.Equal(t, tt.wantRev, Revision)
			assert.Equal(t, tt.wantDate, BuildDate)
		})
	}
}
