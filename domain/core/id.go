package core

import (
	"github.com/google/uuid"
)

// CallID identifies one estimand call in logs
type CallID string

// NewCallID creates a time-ordered identifier (UUID v7, falling back to v4)
func NewCallID() CallID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return CallID(id.String())
}

// String returns the string representation
func (id CallID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id CallID) IsEmpty() bool {
	return id == ""
}
