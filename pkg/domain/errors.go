package domain

import (
	"errors"
	"fmt"
)

// Client-facing failure taxonomy. Every error returned across the access
// boundary is one of these or an opaque internal error; storage faults are
// never mapped onto them.
var (
	// ErrAccessDenied covers both an unknown proposal id and a token that
	// does not resolve under it. Callers must not be able to tell the two
	// apart.
	ErrAccessDenied = errors.New("access denied")

	// ErrExpired is returned for accept/reject once expires_at has passed.
	ErrExpired = errors.New("proposal expired")

	// ErrAlreadyResolved is returned when a terminal state was reached by a
	// prior request or a concurrent racer.
	ErrAlreadyResolved = errors.New("proposal already resolved")

	// ErrNotFound is the store-level miss. It never crosses the access
	// boundary; the gate translates it to ErrAccessDenied.
	ErrNotFound = errors.New("not found")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
