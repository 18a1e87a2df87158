package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/allisson/syncbox/internal/database"
	apperrors "github.com/allisson/syncbox/internal/errors"
	"github.com/allisson/syncbox/internal/metrics"
	outboxDomain "github.com/allisson/syncbox/internal/outbox/domain"
	traceDomain "github.com/allisson/syncbox/internal/trace/domain"
	traceUseCase "github.com/allisson/syncbox/internal/trace/usecase"
)

const (
	// notifyActionType is the queue action type for fan-out notifications.
	notifyActionType = "notify"
	// notifyActionPriority is the queue priority for fan-out notifications.
	notifyActionPriority = 5
)

// notifyPayload is what a fan-out action carries to its consumer.
type notifyPayload struct {
	Kind      string          `json:"kind"`
	DedupeKey string          `json:"dedupe_key"`
	Payload   json.RawMessage `json:"payload"`
}

// Config holds sync engine configuration.
type Config struct {
	// AttemptTimeout bounds a single delivery attempt.
	AttemptTimeout time.Duration
	// SweepInterval is the pause between automatic sweeps.
	SweepInterval time.Duration
	// BatchSize caps the entries drained per sweep.
	BatchSize int
}

// OutboxRepository defines the outbox operations the engine needs.
type OutboxRepository interface {
	ListPending(ctx context.Context, limit int) ([]*outboxDomain.Entry, error)
	Delete(ctx context.Context, id uuid.UUID) error
	MarkAttemptFailed(ctx context.Context, id uuid.UUID, lastError string) error
	MarkDeadLetter(ctx context.Context, id uuid.UUID, lastError string) error
}

// ActionEnqueuer defines the dispatch operation the engine fans out through.
type ActionEnqueuer interface {
	Enqueue(
		ctx context.Context,
		actionType string,
		payload json.RawMessage,
		dedupeKey string,
		traceID uuid.UUID,
		priority int,
	) (bool, error)
}

// AttemptResult classifies the outcome of a single delivery attempt.
type AttemptResult int

const (
	// AttemptSucceeded means the entry was applied and removed.
	AttemptSucceeded AttemptResult = iota
	// AttemptFailedTransient means the entry stays pending for a later sweep.
	AttemptFailedTransient
	// AttemptDeadLettered means the entry failed permanently and was parked.
	AttemptDeadLettered
)

// Summary reports what one sweep did.
type Summary struct {
	Attempted    int `json:"attempted"`
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered"`
}

// Engine drains pending outbox entries to the server of record. Every attempt
// leaves an OPERATION and an OUTPUT trace record, success removes the entry
// and fans out a dispatch action for notifying kinds, and failures are kept
// either pending (transient) or dead-lettered (permanent).
type Engine struct {
	config     Config
	txManager  database.TxManager
	outboxRepo OutboxRepository
	client     RecordClient
	probe      Probe
	dispatcher ActionEnqueuer
	recorder   traceUseCase.Recorder
	metrics    metrics.BusinessMetrics
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewEngine creates a sync engine.
func NewEngine(
	config Config,
	txManager database.TxManager,
	outboxRepo OutboxRepository,
	client RecordClient,
	probe Probe,
	dispatcher ActionEnqueuer,
	recorder traceUseCase.Recorder,
	businessMetrics metrics.BusinessMetrics,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Engine {
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = 10 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if businessMetrics == nil {
		businessMetrics = metrics.NewNoOpBusinessMetrics()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Engine{
		config:     config,
		txManager:  txManager,
		outboxRepo: outboxRepo,
		client:     client,
		probe:      probe,
		dispatcher: dispatcher,
		recorder:   recorder,
		metrics:    businessMetrics,
		clock:      clock,
		logger:     logger,
	}
}

// Attempt delivers one entry to the server of record. The returned error is
// only set for infrastructure problems (the database refusing bookkeeping);
// delivery failures are folded into the AttemptResult.
func (e *Engine) Attempt(ctx context.Context, entry *outboxDomain.Entry) (AttemptResult, error) {
	e.trace(entry, traceDomain.PhaseOperation, traceDomain.ResultPending, nil, nil)

	start := e.clock.Now()

	attemptCtx, cancel := context.WithTimeout(ctx, e.config.AttemptTimeout)
	defer cancel()

	deliverErr := e.client.Deliver(attemptCtx, entry)
	duration := e.clock.Since(start)

	if deliverErr == nil {
		return e.completeDelivery(ctx, entry, duration)
	}

	if IsPermanent(deliverErr) {
		return e.deadLetter(ctx, entry, deliverErr, duration)
	}

	return e.keepPending(ctx, entry, deliverErr, duration)
}

// completeDelivery removes the applied entry and fans out a dispatch action
// for notifying kinds, both inside one transaction so a crash between the two
// cannot lose or double the notification.
func (e *Engine) completeDelivery(
	ctx context.Context,
	entry *outboxDomain.Entry,
	duration time.Duration,
) (AttemptResult, error) {
	err := e.txManager.WithTx(ctx, func(ctx context.Context) error {
		if err := e.outboxRepo.Delete(ctx, entry.ID); err != nil {
			return fmt.Errorf("delete delivered entry: %w", err)
		}

		if !entry.DedupeKey.Kind.Notifies() {
			return nil
		}

		notifyKey := fmt.Sprintf("%s:%s:%s:%s", notifyActionType,
			entry.DedupeKey.Scope, entry.DedupeKey.SubjectID, entry.TraceID)

		payload, err := json.Marshal(notifyPayload{
			Kind:      string(entry.DedupeKey.Kind),
			DedupeKey: entry.DedupeKey.String(),
			Payload:   entry.Payload,
		})
		if err != nil {
			return fmt.Errorf("marshal notification payload: %w", err)
		}

		if _, err := e.dispatcher.Enqueue(
			ctx,
			notifyActionType,
			payload,
			notifyKey,
			entry.TraceID,
			notifyActionPriority,
		); err != nil {
			return fmt.Errorf("enqueue notification: %w", err)
		}

		return nil
	})
	if err != nil {
		// The server has the record but the entry is still queued; the next
		// sweep re-delivers and the server's idempotency absorbs it. The
		// OUTPUT failure record closes this attempt's lineage so the
		// re-delivery is explainable from the trace alone.
		e.trace(entry, traceDomain.PhaseOutput, traceDomain.ResultFailure, err, &duration)
		e.metrics.RecordOperation(ctx, "sync", "attempt", "error")
		return AttemptFailedTransient, err
	}

	e.trace(entry, traceDomain.PhaseOutput, traceDomain.ResultSuccess, nil, &duration)
	e.metrics.RecordOperation(ctx, "sync", "attempt", "success")
	e.metrics.RecordDuration(ctx, "sync", "attempt", duration, "success")

	return AttemptSucceeded, nil
}

func (e *Engine) deadLetter(
	ctx context.Context,
	entry *outboxDomain.Entry,
	deliverErr error,
	duration time.Duration,
) (AttemptResult, error) {
	if err := e.outboxRepo.MarkDeadLetter(ctx, entry.ID, deliverErr.Error()); err != nil {
		return AttemptFailedTransient, fmt.Errorf("mark dead letter: %w", err)
	}

	e.trace(entry, traceDomain.PhaseOutput, traceDomain.ResultFailure, deliverErr, &duration)
	e.metrics.RecordOperation(ctx, "sync", "attempt", "dead_letter")

	if e.logger != nil {
		e.logger.Warn("entry dead-lettered",
			slog.String("entry_id", entry.ID.String()),
			slog.String("dedupe_key", entry.DedupeKey.String()),
			slog.Any("error", deliverErr),
		)
	}

	return AttemptDeadLettered, nil
}

func (e *Engine) keepPending(
	ctx context.Context,
	entry *outboxDomain.Entry,
	deliverErr error,
	duration time.Duration,
) (AttemptResult, error) {
	if err := e.outboxRepo.MarkAttemptFailed(ctx, entry.ID, deliverErr.Error()); err != nil {
		return AttemptFailedTransient, fmt.Errorf("record attempt failure: %w", err)
	}

	e.trace(entry, traceDomain.PhaseOutput, traceDomain.ResultFailure, deliverErr, &duration)
	e.metrics.RecordOperation(ctx, "sync", "attempt", "failure")

	return AttemptFailedTransient, nil
}

// SweepAll drains up to BatchSize pending entries oldest first. It refuses to
// run while the probe reads offline, and a failing entry never stops the
// entries behind it.
func (e *Engine) SweepAll(ctx context.Context) (Summary, error) {
	var summary Summary

	if !e.probe.IsOnline(ctx) {
		return summary, apperrors.Wrap(apperrors.ErrUnavailable, "server of record is offline")
	}

	entries, err := e.outboxRepo.ListPending(ctx, e.config.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("list pending entries: %w", err)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		summary.Attempted++

		result, err := e.Attempt(ctx, entry)
		if err != nil {
			summary.Failed++
			if e.logger != nil {
				e.logger.Error("sweep attempt failed",
					slog.String("entry_id", entry.ID.String()),
					slog.Any("error", err),
				)
			}
			continue
		}

		switch result {
		case AttemptSucceeded:
			summary.Succeeded++
		case AttemptDeadLettered:
			summary.DeadLettered++
		default:
			summary.Failed++
		}
	}

	return summary, nil
}

// Start runs the sweep loop until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	if e.logger != nil {
		e.logger.Info("starting sync sweeper",
			slog.Duration("interval", e.config.SweepInterval),
			slog.Int("batch_size", e.config.BatchSize),
		)
	}

	ticker := e.clock.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if e.logger != nil {
				e.logger.Info("stopping sync sweeper")
			}
			return ctx.Err()
		case <-ticker.Chan():
			summary, err := e.SweepAll(ctx)
			if err != nil {
				if apperrors.Is(err, apperrors.ErrUnavailable) {
					if e.logger != nil {
						e.logger.Debug("skipping sweep, server of record offline")
					}
					continue
				}
				if e.logger != nil {
					e.logger.Error("sweep failed", slog.Any("error", err))
				}
				continue
			}

			if summary.Attempted > 0 && e.logger != nil {
				e.logger.Info("sweep finished",
					slog.Int("attempted", summary.Attempted),
					slog.Int("succeeded", summary.Succeeded),
					slog.Int("failed", summary.Failed),
					slog.Int("dead_lettered", summary.DeadLettered),
				)
			}
		}
	}
}

// trace emits one best-effort trace record for the entry.
func (e *Engine) trace(
	entry *outboxDomain.Entry,
	phase traceDomain.Phase,
	result traceDomain.Result,
	cause error,
	duration *time.Duration,
) {
	if e.recorder == nil {
		return
	}

	record, err := traceDomain.NewRecord(
		entry.TraceID,
		phase,
		"system",
		"entry.deliver",
		"outbox_entry",
		entry.ID.String(),
		nil,
		result,
	)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("building trace record failed", slog.Any("error", err))
		}
		return
	}

	if cause != nil {
		record = record.WithError(cause.Error())
	}
	if duration != nil {
		record = record.WithDuration(*duration)
	}

	e.recorder.Record(record)
}
