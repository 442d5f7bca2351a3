// Package common defines shared constants and sentinel errors used across
// client and server layers of notesync. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Concurrency control.
	ErrVersionConflict = errors.New("version conflict")

	// Auth errors.
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidToken = errors.New("invalid token")

	// Transport errors.
	ErrUnavailable = errors.New("server unavailable")

	// Validation errors.
	ErrValidation = errors.New("validation error")
)
