package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/allisson/syncbox/internal/database"
	"github.com/allisson/syncbox/internal/dispatch/domain"
	"github.com/allisson/syncbox/internal/metrics"
)

// ActionHandler turns one claimed action into its external side effect. The
// returned result, when non-nil, is stored on the completed action.
type ActionHandler interface {
	Handle(ctx context.Context, action *domain.Action) (*string, error)
}

// WorkerConfig holds the polling consumer configuration.
type WorkerConfig struct {
	// PollInterval is the pause between queue polls.
	PollInterval time.Duration
	// BatchSize caps the actions claimed per poll.
	BatchSize int
	// RetryBaseDelay seeds the exponential backoff between attempts.
	RetryBaseDelay time.Duration
	// HandleTimeout bounds one handler invocation.
	HandleTimeout time.Duration
}

// Worker is the consuming side of the action queue: it claims PENDING and
// retryable FAILED actions, hands them to the handler, and keeps the retry
// and expiry bookkeeping.
type Worker struct {
	config    WorkerConfig
	txManager database.TxManager
	repo      ActionRepository
	handler   ActionHandler
	metrics   metrics.BusinessMetrics
	clock     clockwork.Clock
	logger    *slog.Logger
}

// NewWorker creates a worker.
func NewWorker(
	config WorkerConfig,
	txManager database.TxManager,
	repo ActionRepository,
	handler ActionHandler,
	businessMetrics metrics.BusinessMetrics,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Worker {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = time.Second
	}
	if config.HandleTimeout <= 0 {
		config.HandleTimeout = 30 * time.Second
	}
	if businessMetrics == nil {
		businessMetrics = metrics.NewNoOpBusinessMetrics()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Worker{
		config:    config,
		txManager: txManager,
		repo:      repo,
		handler:   handler,
		metrics:   businessMetrics,
		clock:     clock,
		logger:    logger,
	}
}

// Start runs the polling loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	if w.logger != nil {
		w.logger.Info("starting dispatch worker",
			slog.Duration("poll_interval", w.config.PollInterval),
			slog.Int("batch_size", w.config.BatchSize),
		)
	}

	ticker := w.clock.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if w.logger != nil {
				w.logger.Info("stopping dispatch worker")
			}
			return ctx.Err()
		case <-ticker.Chan():
			if err := w.ProcessActions(ctx); err != nil {
				if w.logger != nil {
					w.logger.Error("failed to process actions", slog.Any("error", err))
				}
			}
		}
	}
}

// ProcessActions runs one poll cycle: expire overdue actions, claim a batch,
// and hand each claimed action to the handler. The claim runs in its own
// short transaction so handlers never hold row locks during external calls.
func (w *Worker) ProcessActions(ctx context.Context) error {
	now := w.clock.Now()

	expired, err := w.repo.ExpireOverdue(ctx, now)
	if err != nil {
		return err
	}
	if expired > 0 {
		w.metrics.RecordOperation(ctx, "dispatch", "expire", "success")
		if w.logger != nil {
			w.logger.Warn("expired overdue actions", slog.Int64("count", expired))
		}
	}

	var actions []*domain.Action
	err = w.txManager.WithTx(ctx, func(ctx context.Context) error {
		var claimErr error
		actions, claimErr = w.repo.ClaimPending(ctx, w.config.BatchSize, now)
		return claimErr
	})
	if err != nil {
		return err
	}

	if len(actions) == 0 {
		return nil
	}

	if w.logger != nil {
		w.logger.Info("processing actions", slog.Int("count", len(actions)))
	}

	for _, action := range actions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.processAction(ctx, action)
	}

	return nil
}

// processAction handles one claimed action and persists its outcome. Handler
// failures never propagate; they become retry bookkeeping.
func (w *Worker) processAction(ctx context.Context, action *domain.Action) {
	handleCtx, cancel := context.WithTimeout(ctx, w.config.HandleTimeout)
	defer cancel()

	start := w.clock.Now()
	result, handleErr := w.handler.Handle(handleCtx, action)
	duration := w.clock.Since(start)
	now := w.clock.Now()

	if handleErr != nil {
		delay := retryDelay(w.config.RetryBaseDelay, action.RetryCount)

		if err := action.MarkFailed(handleErr.Error(), now.Add(delay), now); err != nil {
			w.logFailure(action, err)
			return
		}
		if err := w.repo.MarkFailed(ctx, action); err != nil {
			w.logFailure(action, err)
			return
		}

		w.metrics.RecordOperation(ctx, "dispatch", "handle", "failure")
		if w.logger != nil {
			w.logger.Warn("action handling failed",
				slog.String("action_id", action.ID.String()),
				slog.String("action_type", action.ActionType),
				slog.Int("retry_count", action.RetryCount),
				slog.Duration("next_retry_in", delay),
				slog.Any("error", handleErr),
			)
		}
		return
	}

	if err := action.MarkCompleted(result, now); err != nil {
		w.logFailure(action, err)
		return
	}
	if err := w.repo.MarkCompleted(ctx, action); err != nil {
		w.logFailure(action, err)
		return
	}

	w.metrics.RecordOperation(ctx, "dispatch", "handle", "success")
	w.metrics.RecordDuration(ctx, "dispatch", "handle", duration, "success")
}

func (w *Worker) logFailure(action *domain.Action, err error) {
	if w.logger != nil {
		w.logger.Error("failed to persist action outcome",
			slog.String("action_id", action.ID.String()),
			slog.Any("error", err),
		)
	}
}
