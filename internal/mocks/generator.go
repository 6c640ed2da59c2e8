package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/prism-api/internal/domain"
	"github.com/phrazzld/prism-api/internal/generation"
)

// MockGenerator implements generation.Generator for testing
type MockGenerator struct {
	// GenerateVariantsFn allows test cases to mock the GenerateVariants behavior
	GenerateVariantsFn func(ctx context.Context, req domain.Request) (*generation.Response, error)

	// Default response values
	Response *generation.Response
	Err      error

	// Call tracking for verification
	GenerateVariantsCalls struct {
		// mu protects the call tracking state for concurrent test cases
		mu sync.Mutex

		// Count tracks how many times GenerateVariants was called
		Count int

		// Requests contains all requests passed to GenerateVariants calls
		Requests []domain.Request
	}
}

// GenerateVariants implements the generation.Generator interface
func (m *MockGenerator) GenerateVariants(ctx context.Context, req domain.Request) (*generation.Response, error) {
	m.GenerateVariantsCalls.mu.Lock()
	m.GenerateVariantsCalls.Count++
	m.GenerateVariantsCalls.Requests = append(m.GenerateVariantsCalls.Requests, req)
	m.GenerateVariantsCalls.mu.Unlock()

	if m.GenerateVariantsFn != nil {
		return m.GenerateVariantsFn(ctx, req)
	}
	return m.Response, m.Err
}

// CallCount returns how many times GenerateVariants was called.
func (m *MockGenerator) CallCount() int {
	m.GenerateVariantsCalls.mu.Lock()
	defer m.GenerateVariantsCalls.mu.Unlock()
	return m.GenerateVariantsCalls.Count
}

// NewMockGeneratorWithVariants creates a MockGenerator that returns the specified variants
func NewMockGeneratorWithVariants(variants ...domain.Variant) *MockGenerator {
	return &MockGenerator{
		Response: &generation.Response{
			Variants:     variants,
			Reasoning:    "mock reasoning",
			InputTokens:  100,
			OutputTokens: 50,
		},
	}
}

// NewMockGeneratorWithError creates a MockGenerator that returns the specified error
func NewMockGeneratorWithError(err error) *MockGenerator {
	return &MockGenerator{Err: err}
}
