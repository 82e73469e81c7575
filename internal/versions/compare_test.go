package versions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareServer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		server   string
		client   string
		expected Skew
	}{
		{name: "same version", server: "1.2.3", client: "1.2.3", expected: SkewNone},
		{name: "patch difference ignored", server: "1.2.9", client: "1.2.0", expected: SkewNone},
		{name: "prerelease ignored", server: "1.2.0-rc.1", client: "1.2.0", expected: SkewNone},
		{name: "server newer minor", server: "1.3.0", client: "1.2.5", expected: SkewServerNewer},
		{name: "server newer major", server: "2.0.0", client: "1.9.0", expected: SkewServerNewer},
		{name: "server older minor", server: "1.1.0", client: "1.2.0", expected: SkewServerOlder},
		{name: "server older major", server: "v1.0.0", client: "v2.0.0", expected: SkewServerOlder},
		{name: "v prefix accepted", server: "v1.4.0", client: "1.3.0", expected: SkewServerNewer},
		{name: "dev client build", server: "1.0.0", client: "build-abc12345", expected: SkewUnknown},
		{name: "dev server build", server: "build-abc12345", client: "1.0.0", expected: SkewUnknown},
		{name: "both empty", server: "", client: "", expected: SkewUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, CompareServer(tt.server, tt.client))
		})
	}
}

func TestSkewString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "none", SkewNone.String())
	assert.Equal(t, "server newer", SkewServerNewer.String())
	assert.Equal(t, "server older", SkewServerOlder.String())
	assert.Equal(t, "unknown", SkewUnknown.String())
}
