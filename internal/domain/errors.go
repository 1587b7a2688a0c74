package domain

import (
	"errors"
	"fmt"
)

// Error kinds raised by the service layer. The HTTP boundary maps each kind
// to a status code; anything else is reported as an internal error.
var (
	ErrNotFound           = errors.New("resource not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrAlreadyExists      = errors.New("resource already exists")
	ErrValidation         = errors.New("validation failed")
	ErrInvalidState       = errors.New("invalid state for this action")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenInvalid       = errors.New("token invalid")
)

// Account errors
var (
	ErrAccountSuspended = fmt.Errorf("account suspended: %w", ErrForbidden)
	ErrEmailTaken       = fmt.Errorf("email already registered: %w", ErrAlreadyExists)
	ErrAccountLinked    = fmt.Errorf("provider account linked to another user: %w", ErrAlreadyExists)
)

// ErrSessionTTL is returned by session stores asked to persist a session
// that would already be expired.
var ErrSessionTTL = errors.New("session ttl must be positive")

// ValidationError represents a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Is reports ValidationError as the ErrValidation kind.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
