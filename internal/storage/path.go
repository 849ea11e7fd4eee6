// Package storage holds helpers shared by the corpus blob stores.
package storage

import (
	"fmt"
	"path"
	"strings"
)

// ContentTypeJSON is the content type recorded for corpus documents.
const ContentTypeJSON = "application/json; charset=utf-8"

// ObjectPath builds the run-scoped object key {prefix}/{runID}/{name}. Empty
// segments are dropped and the result never starts with a slash.
func ObjectPath(prefix, runID, name string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("object name is required")
	}
	for _, segment := range []string{runID, name} {
		if strings.Contains(segment, "/") || segment == "." || segment == ".." {
			return "", fmt.Errorf("invalid path segment %q", segment)
		}
	}
	joined := path.Join(strings.Trim(prefix, "/"), runID, name)
	return strings.TrimPrefix(joined, "/"), nil
}
