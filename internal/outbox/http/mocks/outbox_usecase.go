// Package mocks provides mock implementations for testing HTTP handlers.
package mocks

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	outboxDomain "github.com/allisson/syncbox/internal/outbox/domain"
	syncService "github.com/allisson/syncbox/internal/sync/service"
)

// MockOutboxUseCase is a mock implementation of OutboxUseCase for testing.
type MockOutboxUseCase struct {
	mock.Mock
}

// Submit mocks the Submit method of OutboxUseCase.
func (m *MockOutboxUseCase) Submit(
	ctx context.Context,
	key outboxDomain.DedupeKey,
	payload json.RawMessage,
) (*outboxDomain.Entry, bool, error) {
	args := m.Called(ctx, key, payload)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*outboxDomain.Entry), args.Bool(1), args.Error(2)
}

// ListPending mocks the ListPending method of OutboxUseCase.
func (m *MockOutboxUseCase) ListPending(ctx context.Context, limit int) ([]*outboxDomain.Entry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outboxDomain.Entry), args.Error(1)
}

// PendingCount mocks the PendingCount method of OutboxUseCase.
func (m *MockOutboxUseCase) PendingCount(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// MockSyncer is a mock implementation of Syncer for testing.
type MockSyncer struct {
	mock.Mock
}

// SweepAll mocks the SweepAll method of Syncer.
func (m *MockSyncer) SweepAll(ctx context.Context) (syncService.Summary, error) {
	args := m.Called(ctx)
	return args.Get(0).(syncService.Summary), args.Error(1)
}
