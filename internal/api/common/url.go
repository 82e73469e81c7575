// Package common provides shared HTTP utility functions for API handlers.
package common

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
)

// maxIDLength bounds path identifiers such as job ids
const maxIDLength = 128

// GetAndValidateURLParam extracts and decodes a chi URL parameter.
// The value must be non-empty, free of whitespace and at most 128 bytes.
func GetAndValidateURLParam(r *http.Request, paramName string) (string, error) {
	encodedValue := chi.URLParam(r, paramName)

	decoded, err := url.PathUnescape(encodedValue)
	if err != nil {
		return "", fmt.Errorf("invalid URL encoding in %s", paramName)
	}

	if strings.TrimSpace(decoded) == "" {
		return "", fmt.Errorf("%s cannot be empty", paramName)
	}

	if strings.ContainsAny(decoded, " \t\n\r") {
		return "", fmt.Errorf("%s cannot contain whitespace", paramName)
	}

	if len(decoded) > maxIDLength {
		return "", fmt.Errorf("%s is longer than %d bytes", paramName, maxIDLength)
	}

	return decoded, nil
}
