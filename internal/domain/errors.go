package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrEmptyInput is returned when a request carries no input text.
	ErrEmptyInput = errors.New("input cannot be empty")

	// ErrInvalidStrategy is returned when an aggregation strategy name is unknown.
	ErrInvalidStrategy = errors.New("invalid aggregation strategy")

	// ErrInvalidMode is returned when a dispatch mode name is unknown.
	ErrInvalidMode = errors.New("invalid dispatch mode")
)
