// Package usecase implements the audit trace business logic.
package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/allisson/syncbox/internal/metrics"
	"github.com/allisson/syncbox/internal/trace/domain"
)

// RecordRepository defines trace record persistence operations.
type RecordRepository interface {
	Create(ctx context.Context, record *domain.Record) error
}

// Recorder accepts trace records without ever failing the caller's primary
// operation. Implementations are best-effort relative to the business write.
type Recorder interface {
	Record(record *domain.Record)
	Close(ctx context.Context) error
}

// Config holds buffered recorder configuration.
type Config struct {
	// BufferSize is the number of records that may wait for the background writer.
	BufferSize int
	// RetryDelay is the pause before re-attempting a failed append.
	RetryDelay time.Duration
	// WriteTimeout bounds a single append attempt.
	WriteTimeout time.Duration
}

// BufferedRecorder decouples trace appends from the callers' request path.
// Records flow through a channel into a single background writer that retries
// a failed append once before giving up; every drop is logged and counted, so
// audit gaps are detectable rather than silent.
type BufferedRecorder struct {
	repo    RecordRepository
	logger  *slog.Logger
	metrics metrics.BusinessMetrics
	clock   clockwork.Clock
	config  Config

	buffer chan *domain.Record
	done   chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewBufferedRecorder creates and starts a buffered recorder.
func NewBufferedRecorder(
	config Config,
	repo RecordRepository,
	businessMetrics metrics.BusinessMetrics,
	clock clockwork.Clock,
	logger *slog.Logger,
) *BufferedRecorder {
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if businessMetrics == nil {
		businessMetrics = metrics.NewNoOpBusinessMetrics()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	r := &BufferedRecorder{
		repo:    repo,
		logger:  logger,
		metrics: businessMetrics,
		clock:   clock,
		config:  config,
		buffer:  make(chan *domain.Record, config.BufferSize),
		done:    make(chan struct{}),
	}

	go r.run()

	return r
}

// Record enqueues a trace record for appending. It never blocks and never
// returns an error; a full buffer drops the record with a warning, and
// records arriving after Close are dropped the same way.
func (r *BufferedRecorder) Record(record *domain.Record) {
	if record == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.metrics.RecordOperation(context.Background(), "trace", "append", "dropped")
		if r.logger != nil {
			r.logger.Warn("trace recorder closed, dropping record",
				slog.String("trace_id", record.TraceID.String()),
				slog.String("phase", string(record.Phase)),
			)
		}
		return
	}

	select {
	case r.buffer <- record:
	default:
		r.metrics.RecordOperation(context.Background(), "trace", "append", "dropped")
		if r.logger != nil {
			r.logger.Warn("trace buffer full, dropping record",
				slog.String("trace_id", record.TraceID.String()),
				slog.String("phase", string(record.Phase)),
			)
		}
	}
}

// Close stops accepting records and drains the buffer. Callers should pass a
// context with a deadline; records still buffered when it expires are lost.
func (r *BufferedRecorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.buffer)
		r.mu.Unlock()
	})

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the single background writer goroutine.
func (r *BufferedRecorder) run() {
	defer close(r.done)

	for record := range r.buffer {
		r.write(record)
	}
}

// write appends one record, retrying once on failure.
func (r *BufferedRecorder) write(record *domain.Record) {
	if err := r.tryCreate(record); err == nil {
		r.metrics.RecordOperation(context.Background(), "trace", "append", "success")
		return
	}

	r.clock.Sleep(r.config.RetryDelay)

	if err := r.tryCreate(record); err != nil {
		r.metrics.RecordOperation(context.Background(), "trace", "append", "failure")
		if r.logger != nil {
			r.logger.Warn("trace append failed after retry",
				slog.String("trace_id", record.TraceID.String()),
				slog.String("phase", string(record.Phase)),
				slog.Any("error", err),
			)
		}
		return
	}

	r.metrics.RecordOperation(context.Background(), "trace", "append", "success")
}

func (r *BufferedRecorder) tryCreate(record *domain.Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	return r.repo.Create(ctx, record)
}
