package core

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

// ID is a sortable, globally unique identifier backed by KSUID.
type ID string

func (id ID) String() string {
	return string(id)
}

func (id ID) IsZero() bool {
	return id == ""
}

// NewID generates a new KSUID based identifier.
func NewID() (ID, error) {
	k, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return ID(k.String()), nil
}

// MustNewID generates a new ID and panics on entropy failure.
func MustNewID() ID {
	id, err := NewID()
	if err != nil {
		panic(err)
	}
	return id
}

// ParseID validates s as a KSUID and returns it as an ID.
func ParseID(s string) (ID, error) {
	k, err := ksuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid id %q: %w", s, err)
	}
	return ID(k.String()), nil
}
