package usecase

import (
	"context"

	"github.com/google/uuid"

	"github.com/allisson/syncbox/internal/trace/domain"
)

// QueryRepository defines trace record read operations.
type QueryRepository interface {
	ListByTraceID(ctx context.Context, traceID uuid.UUID) ([]*domain.Record, error)
}

// Query exposes read access to trace lineages.
type Query interface {
	ListByTraceID(ctx context.Context, traceID uuid.UUID) ([]*domain.Record, error)
}

type traceQuery struct {
	repo QueryRepository
}

// NewQuery creates a trace query usecase.
func NewQuery(repo QueryRepository) Query {
	return &traceQuery{repo: repo}
}

// ListByTraceID returns the full lineage for a trace in append order. An
// unknown trace id yields an empty slice, not an error: the absence of trace
// records is itself information.
func (q *traceQuery) ListByTraceID(ctx context.Context, traceID uuid.UUID) ([]*domain.Record, error) {
	return q.repo.ListByTraceID(ctx, traceID)
}
