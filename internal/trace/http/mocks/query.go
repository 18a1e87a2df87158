// Package mocks provides mock implementations for testing HTTP handlers.
package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	traceDomain "github.com/allisson/syncbox/internal/trace/domain"
)

// MockQuery is a mock implementation of Query for testing.
type MockQuery struct {
	mock.Mock
}

// ListByTraceID mocks the ListByTraceID method of Query.
func (m *MockQuery) ListByTraceID(ctx context.Context, traceID uuid.UUID) ([]*traceDomain.Record, error) {
	args := m.Called(ctx, traceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*traceDomain.Record), args.Error(1)
}
