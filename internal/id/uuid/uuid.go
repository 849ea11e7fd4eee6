// Package uuid generates and validates harvest run identifiers.
package uuid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 run IDs.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID v7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}

// ParseRunID normalizes a run ID supplied by a caller and rejects anything
// that is not a UUID v7.
func ParseRunID(raw string) (string, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid run id %q: %w", raw, err)
	}
	if id.Version() != 7 {
		return "", fmt.Errorf("invalid run id %q: version %d", raw, id.Version())
	}
	return id.String(), nil
}

// CreatedAt extracts the millisecond timestamp embedded in a v7 run ID.
func CreatedAt(runID string) (time.Time, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid run id %q: %w", runID, err)
	}
	sec, nsec := id.Time().UnixTime()
	return time.Unix(sec, nsec).UTC(), nil
}
