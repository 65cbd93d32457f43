package models

import (
	"fmt"

	"github.com/google/uuid"
)

// NewRunID generates a unique run identifier.
// Example: NewRunID("apply") -> "apply:uuid-here"
func NewRunID(mode string) string {
	return fmt.Sprintf("%s:%s", mode, uuid.New().String())
}
