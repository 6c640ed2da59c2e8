package auth

import "errors"

// Token errors. ValidateToken wraps the underlying jwt error in one of these.
var (
	ErrInvalidToken     = errors.New("invalid authentication token")
	ErrExpiredToken     = errors.New("authentication token has expired")
	ErrTokenNotYetValid = errors.New("authentication token not yet valid")
	ErrMissingToken     = errors.New("authentication token is missing")

	// ErrMissingSubject is returned by GenerateToken for an empty subject.
	ErrMissingSubject = errors.New("token subject is required")
)
