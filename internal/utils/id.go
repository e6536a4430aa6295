package utils

import "github.com/google/uuid"

// NewID returns a random (v4) identifier drawn from crypto/rand.
func NewID() string {
	return uuid.NewString()
}
