// Package usecase implements the action queue business logic.
package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/allisson/syncbox/internal/dispatch/domain"
	"github.com/allisson/syncbox/internal/metrics"
	traceDomain "github.com/allisson/syncbox/internal/trace/domain"
	traceUseCase "github.com/allisson/syncbox/internal/trace/usecase"
)

// ActionRepository defines action queue repository operations.
type ActionRepository interface {
	Enqueue(ctx context.Context, action *domain.Action) (bool, error)
	ClaimPending(ctx context.Context, limit int, now time.Time) ([]*domain.Action, error)
	MarkCompleted(ctx context.Context, action *domain.Action) error
	MarkFailed(ctx context.Context, action *domain.Action) error
	MarkExpired(ctx context.Context, action *domain.Action) error
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
	CountByStatus(ctx context.Context, status domain.ActionStatus) (int64, error)
}

// DispatcherConfig holds enqueue-side configuration.
type DispatcherConfig struct {
	// MaxRetries is the attempt budget given to every new action.
	MaxRetries int
	// ActionTTL is how long an action may wait before expiring.
	ActionTTL time.Duration
}

// Dispatcher is the enqueue side of the action queue. Its obligation ends at a
// correctly deduplicated, correctly prioritized insert; consuming the queue is
// the Worker's job.
type Dispatcher struct {
	config   DispatcherConfig
	repo     ActionRepository
	recorder traceUseCase.Recorder
	metrics  metrics.BusinessMetrics
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(
	config DispatcherConfig,
	repo ActionRepository,
	recorder traceUseCase.Recorder,
	businessMetrics metrics.BusinessMetrics,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Dispatcher {
	if businessMetrics == nil {
		businessMetrics = metrics.NewNoOpBusinessMetrics()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Dispatcher{
		config:   config,
		repo:     repo,
		recorder: recorder,
		metrics:  businessMetrics,
		clock:    clock,
		logger:   logger,
	}
}

// Enqueue inserts an action unless its dedupe key already exists. A duplicate
// is absorbed silently, reported through a skipped trace record rather than an
// error. Returns true when a new action was queued.
func (d *Dispatcher) Enqueue(
	ctx context.Context,
	actionType string,
	payload json.RawMessage,
	dedupeKey string,
	traceID uuid.UUID,
	priority int,
) (bool, error) {
	action, err := domain.NewAction(
		actionType,
		payload,
		dedupeKey,
		traceID,
		priority,
		d.config.MaxRetries,
		d.config.ActionTTL,
		d.clock.Now(),
	)
	if err != nil {
		return false, err
	}

	inserted, err := d.repo.Enqueue(ctx, action)
	if err != nil {
		d.metrics.RecordOperation(ctx, "dispatch", "enqueue", "error")
		return false, err
	}

	if !inserted {
		d.traceSkipped(action)
		d.metrics.RecordOperation(ctx, "dispatch", "enqueue", "skipped")
		if d.logger != nil {
			d.logger.Debug("duplicate action absorbed",
				slog.String("dedupe_key", dedupeKey),
				slog.String("action_type", actionType),
			)
		}
		return false, nil
	}

	d.metrics.RecordOperation(ctx, "dispatch", "enqueue", "success")
	return true, nil
}

// PendingCount returns the number of actions waiting for a consumer.
func (d *Dispatcher) PendingCount(ctx context.Context) (int64, error) {
	return d.repo.CountByStatus(ctx, domain.ActionStatusPending)
}

func (d *Dispatcher) traceSkipped(action *domain.Action) {
	if d.recorder == nil {
		return
	}

	record, err := traceDomain.NewRecord(
		action.TraceID,
		traceDomain.PhaseOperation,
		"system",
		"action.enqueue",
		"action_queue_entry",
		action.DedupeKey,
		nil,
		traceDomain.ResultSkipped,
	)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("building trace record failed", slog.Any("error", err))
		}
		return
	}

	d.recorder.Record(record)
}
