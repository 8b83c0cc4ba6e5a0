// Package uuid issues time-ordered run and archive row IDs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID v7 strings, which sort by creation time.
type Generator struct{}

// New creates a Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUID v7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
