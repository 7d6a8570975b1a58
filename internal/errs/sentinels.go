// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across client layers.
var (
	// ErrValidation indicates a client-local pre-submit validation failure
	// (missing field, password mismatch). Rejected before any network call.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionExpired indicates a failed silent refresh: the session was
	// force-cleared without direct user action.
	ErrSessionExpired = errors.New("session expired")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnexpectedPayload indicates a response body that does not match any
	// accepted shape (neither paginated envelope nor bare list, or non-JSON).
	ErrUnexpectedPayload = errors.New("unexpected payload")
)
