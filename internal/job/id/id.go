// Package id provides unique identifier generation for jobs, frames and videos.
package id

import "github.com/google/uuid"

// Generate creates a new random identifier in canonical UUID form.
// Identifiers double as queue deduplication keys and object key segments,
// so they must stay URL and subject safe.
func Generate() string {
	return uuid.NewString()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
