package versions

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersionInfoWithValues(t *testing.T) {
	t.Parallel()

	noVCS := func() (string, string) { return "", "" }
	vcs := func() (string, string) { return "0123456789abcdef", "2026-03-04T05:06:07Z" }

	tests := []struct {
		name          string
		version       string
		commit        string
		buildDate     string
		vcs           func() (string, string)
		wantVersion   string
		wantCommit    string
		wantBuildDate string
	}{
		{
			name:          "release build",
			version:       "v1.2.3",
			commit:        "abcdef0",
			buildDate:     "2026-01-02T03:04:05Z",
			vcs:           vcs,
			wantVersion:   "v1.2.3",
			wantCommit:    "abcdef0",
			wantBuildDate: "2026-01-02 03:04:05 UTC",
		},
		{
			name:          "dev build uses vcs settings",
			version:       "dev",
			commit:        unknownStr,
			buildDate:     unknownStr,
			vcs:           vcs,
			wantVersion:   "build-01234567",
			wantCommit:    "0123456789abcdef",
			wantBuildDate: "2026-03-04 05:06:07 UTC",
		},
		{
			name:          "dev build without vcs",
			version:       "dev",
			commit:        unknownStr,
			buildDate:     unknownStr,
			vcs:           noVCS,
			wantVersion:   "build-unknown",
			wantCommit:    unknownStr,
			wantBuildDate: unknownStr,
		},
		{
			name:          "non-RFC3339 date kept",
			version:       "v0.1.0",
			commit:        "abc",
			buildDate:     "yesterday",
			vcs:           noVCS,
			wantVersion:   "v0.1.0",
			wantCommit:    "abc",
			wantBuildDate: "yesterday",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			info := getVersionInfoWithValues(tt.version, tt.commit, tt.buildDate, tt.vcs)
			assert.Equal(t, tt.wantVersion, info.Version)
			assert.Equal(t, tt.wantCommit, info.Commit)
			assert.Equal(t, tt.wantBuildDate, info.BuildDate)
			assert.Equal(t, runtime.Version(), info.GoVersion)
			assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
		})
	}
}
