package versions

import "github.com/Masterminds/semver/v3"

// Skew describes how a relay server version relates to the client version
type Skew int

const (
	// SkewUnknown means at least one side is not a semantic version (dev builds)
	SkewUnknown Skew = iota
	// SkewNone means both sides share the same major and minor version
	SkewNone
	// SkewServerNewer means the server is ahead by a minor or major version
	SkewServerNewer
	// SkewServerOlder means the server is behind by a minor or major version
	SkewServerOlder
)

// String returns a human readable form of the skew
func (s Skew) String() string {
	switch s {
	case SkewNone:
		return "none"
	case SkewServerNewer:
		return "server newer"
	case SkewServerOlder:
		return "server older"
	default:
		return "unknown"
	}
}

// CompareServer compares a server version against the client version.
// Patch and prerelease differences are not reported as skew.
func CompareServer(serverVersion, clientVersion string) Skew {
	server, errServer := semver.NewVersion(serverVersion)
	client, errClient := semver.NewVersion(clientVersion)
	if errServer != nil || errClient != nil {
		return SkewUnknown
	}

	serverLine := semver.New(server.Major(), server.Minor(), 0, "", "")
	clientLine := semver.New(client.Major(), client.Minor(), 0, "", "")

	switch {
	case serverLine.GreaterThan(clientLine):
		return SkewServerNewer
	case serverLine.LessThan(clientLine):
		return SkewServerOlder
	default:
		return SkewNone
	}
}
