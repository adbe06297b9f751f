package generator

import "github.com/google/uuid"

// GenerateUUID returns a new random identifier string.
func GenerateUUID() string {
	return uuid.New().String()
}
