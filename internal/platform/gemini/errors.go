package gemini

import "errors"

var (
	// ErrEmptyPrompt means the template rendered only whitespace.
	ErrEmptyPrompt = errors.New("rendered prompt is empty")

	// ErrNilLogger is returned by constructors given a nil logger.
	ErrNilLogger = errors.New("logger cannot be nil")
)
