// Package uuid generates random identifiers.
package uuid

import "github.com/google/uuid"

// New returns a random (version 4) UUID string. It panics if the system
// random source fails.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	return uuid.Validate(s) == nil
}
