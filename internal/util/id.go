// Package util holds small helpers shared across packages.
package util

import "github.com/google/uuid"

// NewID returns a random UUIDv4, prefixed with prefix and an underscore
// when prefix is non-empty.
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
