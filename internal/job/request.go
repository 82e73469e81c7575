package job

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// ErrInvalidURL is returned when a job creation request carries a malformed source URL
var ErrInvalidURL = errors.New("invalid source URL")

// CreateRequest is the body of POST /jobs
type CreateRequest struct {
	YoutubeURL string         `json:"youtubeUrl"`
	Options    map[string]any `json:"options,omitempty"`
}

// CreateResponse is the body returned by POST /jobs
type CreateResponse struct {
	JobID string `json:"jobId"`
}

// ValidateCreateRequest checks a creation request locally, before any network call.
// Only URL well-formedness is checked: absolute http(s) URL with a host.
func ValidateCreateRequest(req *CreateRequest) error {
	if req == nil || req.YoutubeURL == "" {
		return fmt.Errorf("%w: youtubeUrl is required", ErrInvalidURL)
	}

	u, err := url.Parse(req.YoutubeURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	return nil
}

// LoadOptions reads job options from a JSON file. Comments and trailing
// commas are accepted. The document must be a JSON object.
func LoadOptions(path string) (map[string]any, error) {
	// #nosec G304 -- path is provided by the operator on the command line
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read options file: %w", err)
	}
	return ParseOptions(data)
}

// ParseOptions parses a JSON (or JWCC) options document
func ParseOptions(data []byte) (map[string]any, error) {
	standard, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse options: %w", err)
	}

	standard = bytes.TrimSpace(standard)
	if len(standard) == 0 || standard[0] != '{' {
		return nil, fmt.Errorf("options must be a JSON object")
	}

	var opts map[string]any
	if err := json.Unmarshal(standard, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}
	return opts, nil
}
