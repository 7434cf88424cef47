package persistence

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID returns a time ordered identifier for a new record.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}

	return id.String(), nil
}
