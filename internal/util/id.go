package util

import "github.com/google/uuid"

// NewID returns a random identifier suitable for books and jobs.
func NewID() string {
	return uuid.NewString()
}
