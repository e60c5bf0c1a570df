package uid

import "github.com/google/uuid"

// New generates a new random identifier.
func New() string {
	return uuid.New().String()
}

// NewOrdered generates a time-ordered identifier, so ids sort by creation time.
// It falls back to a random id if the clock sequence cannot be read.
func NewOrdered() string {
	id, err := uuid.NewV7()
	if err != nil {
		return New()
	}
	return id.String()
}

// IsValid checks if a string is a valid UUID.
func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
