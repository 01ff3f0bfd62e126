package utils

import "github.com/google/uuid"

// GenerateID returns a random UUID v4 used as the primary key of stored
// records and outbox events.
func GenerateID() string {
	return uuid.NewString()
}
