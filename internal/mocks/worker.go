package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/prism-api/internal/domain"
)

// MockWorker implements domain.Worker for testing
type MockWorker struct {
	WorkerName string

	// ExecuteFn allows test cases to mock the Execute behavior
	ExecuteFn func(ctx context.Context, req domain.Request) (*domain.WorkerResult, error)

	// Default response values
	Result *domain.WorkerResult
	Err    error

	mu       sync.Mutex
	requests []domain.Request
}

// Name implements domain.Worker
func (m *MockWorker) Name() string { return m.WorkerName }

// Execute implements domain.Worker
func (m *MockWorker) Execute(ctx context.Context, req domain.Request) (*domain.WorkerResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Result.Clone(), nil
}

// Requests returns a copy of every request the worker received.
func (m *MockWorker) Requests() []domain.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Request(nil), m.requests...)
}

// CallCount returns how many times Execute was called.
func (m *MockWorker) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// NewMockWorker creates a MockWorker returning result.
func NewMockWorker(name string, result *domain.WorkerResult) *MockWorker {
	return &MockWorker{WorkerName: name, Result: result}
}

// NewFailingWorker creates a MockWorker that always returns err.
func NewFailingWorker(name string, err error) *MockWorker {
	return &MockWorker{WorkerName: name, Err: err}
}
