package domain

import (
	"fmt"
	"strings"
)

// Context carries the enrichment a worker receives alongside its input.
// Tags holds internal markers injected by the enrichment collaborator; they
// guide workers but must never appear in user-facing output.
type Context struct {
	Hints       []string `json:"hints,omitempty"`
	Examples    []string `json:"examples,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
	Target      string   `json:"target,omitempty"`
	Tags        []string `json:"-"`
}

// Clone returns a deep copy of the context so callers can extend it
// without touching the original slices.
func (c Context) Clone() Context {
	return Context{
		Hints:       append([]string(nil), c.Hints...),
		Examples:    append([]string(nil), c.Examples...),
		Constraints: append([]string(nil), c.Constraints...),
		Target:      c.Target,
		Tags:        append([]string(nil), c.Tags...),
	}
}

// Options are the caller's per-request preferences.
type Options struct {
	// MaxVariants caps how many variants a worker should return. Zero means
	// the worker's own default.
	MaxVariants int `json:"max_variants,omitempty"`

	// Techniques restricts the optimizer to the named techniques.
	Techniques []string `json:"techniques,omitempty"`
}

// Request is the unit of work handed to a worker: input payload, enrichment
// context and requested options. It is passed by value and treated as
// immutable once submitted.
type Request struct {
	Input   string  `json:"input"`
	Context Context `json:"context"`
	Options Options `json:"options"`
}

// Validate checks that the request carries something to work on.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Input) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyInput)
	}
	return nil
}
