package utils

import "github.com/google/uuid"

// NewID returns a random identifier used for connection ids and send correlation.
func NewID() string {
	return uuid.NewString()
}
