// Package usecase implements the durable outbox business logic.
package usecase

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/allisson/syncbox/internal/metrics"
	"github.com/allisson/syncbox/internal/outbox/domain"
	traceDomain "github.com/allisson/syncbox/internal/trace/domain"
	traceUseCase "github.com/allisson/syncbox/internal/trace/usecase"
)

// EntryRepository defines outbox entry repository operations.
type EntryRepository interface {
	Create(ctx context.Context, entry *domain.Entry) (bool, error)
	GetByDedupeKey(ctx context.Context, dedupeKey string) (*domain.Entry, error)
	ListPending(ctx context.Context, limit int) ([]*domain.Entry, error)
	CountPending(ctx context.Context) (int64, error)
}

// OutboxUseCase defines the interface for outbox operations.
type OutboxUseCase interface {
	// Submit validates and durably queues an intent. The bool reports whether a
	// new entry was inserted; a dedupe key collision returns the already-queued
	// entry and false without an error.
	Submit(ctx context.Context, key domain.DedupeKey, payload json.RawMessage) (*domain.Entry, bool, error)
	// ListPending returns entries waiting for delivery, oldest first.
	ListPending(ctx context.Context, limit int) ([]*domain.Entry, error)
	// PendingCount returns the number of entries waiting for delivery.
	PendingCount(ctx context.Context) (int64, error)
}

// outboxUseCase implements OutboxUseCase.
type outboxUseCase struct {
	repo     EntryRepository
	recorder traceUseCase.Recorder
	metrics  metrics.BusinessMetrics
	logger   *slog.Logger
}

// NewOutboxUseCase creates a new outbox use case.
func NewOutboxUseCase(
	repo EntryRepository,
	recorder traceUseCase.Recorder,
	businessMetrics metrics.BusinessMetrics,
	logger *slog.Logger,
) OutboxUseCase {
	if businessMetrics == nil {
		businessMetrics = metrics.NewNoOpBusinessMetrics()
	}

	return &outboxUseCase{
		repo:     repo,
		recorder: recorder,
		metrics:  businessMetrics,
		logger:   logger,
	}
}

// Submit queues an intent for eventual delivery. The entry is durable before
// Submit returns: a crash right after cannot lose it. Every submission leaves
// an INPUT trace record, result pending for a fresh insert and skipped for an
// absorbed duplicate.
func (uc *outboxUseCase) Submit(
	ctx context.Context,
	key domain.DedupeKey,
	payload json.RawMessage,
) (*domain.Entry, bool, error) {
	entry, err := domain.NewEntry(key, payload)
	if err != nil {
		return nil, false, err
	}

	inserted, err := uc.repo.Create(ctx, entry)
	if err != nil {
		uc.metrics.RecordOperation(ctx, "outbox", "submit", "error")
		return nil, false, err
	}

	if !inserted {
		// Hand back the row that actually holds the intent, so duplicate
		// responses carry the queued entry's id and trace id, and the skipped
		// trace lands in the real lineage.
		existing, err := uc.repo.GetByDedupeKey(ctx, key.String())
		if err != nil {
			uc.metrics.RecordOperation(ctx, "outbox", "submit", "error")
			return nil, false, err
		}
		if uc.logger != nil {
			uc.logger.Debug("duplicate intent absorbed", slog.String("dedupe_key", key.String()))
		}

		uc.traceInput(existing, traceDomain.ResultSkipped)
		uc.metrics.RecordOperation(ctx, "outbox", "submit", "skipped")

		return existing, false, nil
	}

	uc.traceInput(entry, traceDomain.ResultPending)
	uc.metrics.RecordOperation(ctx, "outbox", "submit", "success")

	return entry, true, nil
}

// ListPending returns entries waiting for delivery, oldest first.
func (uc *outboxUseCase) ListPending(ctx context.Context, limit int) ([]*domain.Entry, error) {
	return uc.repo.ListPending(ctx, limit)
}

// PendingCount returns the number of entries waiting for delivery.
func (uc *outboxUseCase) PendingCount(ctx context.Context) (int64, error) {
	return uc.repo.CountPending(ctx)
}

func (uc *outboxUseCase) traceInput(entry *domain.Entry, result traceDomain.Result) {
	if uc.recorder == nil {
		return
	}

	record, err := traceDomain.NewRecord(
		entry.TraceID,
		traceDomain.PhaseInput,
		"system",
		"entry.submit",
		"outbox_entry",
		entry.ID.String(),
		entry.Payload,
		result,
	)
	if err != nil {
		if uc.logger != nil {
			uc.logger.Warn("building trace record failed", slog.Any("error", err))
		}
		return
	}

	uc.recorder.Record(record)
}
