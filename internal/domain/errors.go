package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned across a layer boundary wraps exactly one
// of these so callers can branch with errors.Is.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrPrecondition   = errors.New("precondition failed")
	ErrMalformedInput = errors.New("malformed input")
)

var (
	ErrWorkshopNotFound = fmt.Errorf("workshop %w", ErrNotFound)
	ErrUserNotFound     = fmt.Errorf("user %w", ErrNotFound)
	ErrNotRegistered    = fmt.Errorf("registration %w", ErrNotFound)

	// ErrRegistrantNotFound is returned when a registration names an address
	// that never signed up. It is a precondition failure, not a missing
	// resource: the workshop exists, the caller must sign up first.
	ErrRegistrantNotFound = fmt.Errorf("user not signed up: %w", ErrPrecondition)
	ErrUserNotConfirmed   = fmt.Errorf("user not confirmed: %w", ErrPrecondition)

	ErrUserAlreadyConfirmed = fmt.Errorf("user already confirmed: %w", ErrConflict)
	ErrWorkshopExists       = fmt.Errorf("workshop already exists: %w", ErrConflict)
	ErrWriteConflict        = fmt.Errorf("concurrent write retries exhausted: %w", ErrConflict)
	ErrDeliveryInProgress   = fmt.Errorf("another delivery to this user is in progress: %w", ErrConflict)

	ErrMalformedRoutingAddress = fmt.Errorf("routing address: %w", ErrMalformedInput)
)
