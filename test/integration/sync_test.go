// Package integration provides end-to-end tests for the outbox, sync engine,
// trace log, and action dispatch working against a real PostgreSQL database
// and a fake server of record.
package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/syncbox/internal/database"
	dispatchDomain "github.com/allisson/syncbox/internal/dispatch/domain"
	dispatchRepository "github.com/allisson/syncbox/internal/dispatch/repository"
	dispatchUsecase "github.com/allisson/syncbox/internal/dispatch/usecase"
	apperrors "github.com/allisson/syncbox/internal/errors"
	outboxDomain "github.com/allisson/syncbox/internal/outbox/domain"
	outboxRepository "github.com/allisson/syncbox/internal/outbox/repository"
	outboxUsecase "github.com/allisson/syncbox/internal/outbox/usecase"
	syncService "github.com/allisson/syncbox/internal/sync/service"
	"github.com/allisson/syncbox/internal/testutil"
	traceDomain "github.com/allisson/syncbox/internal/trace/domain"
	traceRepository "github.com/allisson/syncbox/internal/trace/repository"
	traceUsecase "github.com/allisson/syncbox/internal/trace/usecase"
)

// recordServer is a scriptable fake server of record. It accepts idempotent
// record writes, answers the connectivity probe, and can be told to go
// offline, fail transiently, or reject a dedupe key outright.
type recordServer struct {
	mu        sync.Mutex
	online    bool
	received  map[string]int // idempotency key -> delivery count
	transient map[string]int // dedupe key -> remaining 503 responses
	rejected  map[string]bool

	server *httptest.Server
}

func newRecordServer() *recordServer {
	rs := &recordServer{
		online:    true,
		received:  make(map[string]int),
		transient: make(map[string]int),
		rejected:  make(map[string]bool),
	}
	rs.server = httptest.NewServer(http.HandlerFunc(rs.handle))
	return rs
}

func (rs *recordServer) handle(w http.ResponseWriter, r *http.Request) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.online {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost || r.URL.Path != "/v1/records" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var body struct {
		DedupeKey string `json:"dedupe_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if rs.rejected[body.DedupeKey] {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}

	if rs.transient[body.DedupeKey] > 0 {
		rs.transient[body.DedupeKey]--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if rs.received[key] > 0 {
		rs.received[key]++
		w.WriteHeader(http.StatusConflict)
		return
	}

	rs.received[key]++
	w.WriteHeader(http.StatusCreated)
}

func (rs *recordServer) setOnline(online bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.online = online
}

func (rs *recordServer) failTransiently(dedupeKey string, times int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.transient[dedupeKey] = times
}

func (rs *recordServer) reject(dedupeKey string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rejected[dedupeKey] = true
}

func (rs *recordServer) deliveryCount(idempotencyKey string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.received[idempotencyKey]
}

// syncFixture wires the full pipeline against a real database and the fake
// server of record.
type syncFixture struct {
	db         *sql.DB
	server     *recordServer
	outboxRepo *outboxRepository.PostgreSQLOutboxRepository
	actionRepo *dispatchRepository.PostgreSQLActionRepository
	recorder   traceUsecase.Recorder
	traceQuery traceUsecase.Query
	useCase    outboxUsecase.OutboxUseCase
	dispatcher *dispatchUsecase.Dispatcher
	engine     *syncService.Engine
	worker     *dispatchUsecase.Worker
}

func setupSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	testutil.SkipIfNoPostgres(t)

	db := testutil.SetupPostgresDB(t)
	server := newRecordServer()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	txManager := database.NewTxManager(db)
	outboxRepo := outboxRepository.NewPostgreSQLOutboxRepository(db)
	actionRepo := dispatchRepository.NewPostgreSQLActionRepository(db)
	traceRepo := traceRepository.NewPostgreSQLTraceRepository(db)

	recorder := traceUsecase.NewBufferedRecorder(traceUsecase.Config{}, traceRepo, nil, nil, logger)
	traceQuery := traceUsecase.NewQuery(traceRepo)

	useCase := outboxUsecase.NewOutboxUseCase(outboxRepo, recorder, nil, logger)

	dispatcher := dispatchUsecase.NewDispatcher(
		dispatchUsecase.DispatcherConfig{MaxRetries: 3, ActionTTL: time.Hour},
		actionRepo, recorder, nil, nil, logger,
	)

	probe := syncService.NewHTTPProbe(server.server.URL, time.Second, logger)
	client := syncService.NewHTTPRecordClient(server.server.URL, server.server.Client())

	engine := syncService.NewEngine(
		syncService.Config{AttemptTimeout: 5 * time.Second, SweepInterval: time.Minute, BatchSize: 100},
		txManager, outboxRepo, client, probe, dispatcher, recorder, nil, nil, logger,
	)

	worker := dispatchUsecase.NewWorker(
		dispatchUsecase.WorkerConfig{BatchSize: 50, RetryBaseDelay: time.Second},
		txManager, actionRepo, dispatchUsecase.NewLogNotifier(logger), nil, nil, logger,
	)

	t.Cleanup(func() {
		_ = recorder.Close(context.Background())
		server.server.Close()
		testutil.TeardownDB(t, db)
	})

	return &syncFixture{
		db:         db,
		server:     server,
		outboxRepo: outboxRepo,
		actionRepo: actionRepo,
		recorder:   recorder,
		traceQuery: traceQuery,
		useCase:    useCase,
		dispatcher: dispatcher,
		engine:     engine,
		worker:     worker,
	}
}

// submitIntent queues a presence.record intent and returns the created entry.
func (f *syncFixture) submitIntent(
	t *testing.T, ctx context.Context, kind outboxDomain.ActionKind, scope, subject, token string,
) *outboxDomain.Entry {
	t.Helper()

	key, err := outboxDomain.NewDedupeKey(kind, scope, subject, token)
	require.NoError(t, err)

	entry, inserted, err := f.useCase.Submit(ctx, key, json.RawMessage(`{"present":true}`))
	require.NoError(t, err)
	require.True(t, inserted)
	return entry
}

// waitForTraces polls the lineage until at least n records show up. The
// recorder writes asynchronously, so assertions have to wait for the buffer
// to drain.
func (f *syncFixture) waitForTraces(t *testing.T, ctx context.Context, entry *outboxDomain.Entry, n int) []*traceDomain.Record {
	t.Helper()

	var records []*traceDomain.Record
	require.Eventually(t, func() bool {
		var err error
		records, err = f.traceQuery.ListByTraceID(ctx, entry.TraceID)
		return err == nil && len(records) >= n
	}, 5*time.Second, 50*time.Millisecond, "trace lineage never reached %d records", n)
	return records
}

func (f *syncFixture) outboxStatus(t *testing.T, entry *outboxDomain.Entry) (string, int) {
	t.Helper()

	var status string
	var attempts int
	err := f.db.QueryRow(
		"SELECT status, attempts FROM outbox_entries WHERE id = $1", entry.ID,
	).Scan(&status, &attempts)
	require.NoError(t, err)
	return status, attempts
}

// TestSync_EndToEnd_DeliveryAndFanOut covers the happy path: a submitted
// intent is delivered exactly once, removed from the outbox, fanned out to the
// action queue, processed by the worker, and fully traced.
func TestSync_EndToEnd_DeliveryAndFanOut(t *testing.T) {
	fixture := setupSyncFixture(t)
	ctx := context.Background()

	entry := fixture.submitIntent(t, ctx, outboxDomain.ActionKindPresenceRecord, "enc1", "stu1", "2026-08-29")

	summary, err := fixture.engine.SweepAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, syncService.Summary{Attempted: 1, Succeeded: 1}, summary)

	// Delivered exactly once and drained from the outbox.
	assert.Equal(t, 1, fixture.server.deliveryCount(entry.DedupeKey.String()))
	count, err := fixture.outboxRepo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// Fan-out: a notify action carrying the entry's trace ID, priority 5.
	notifyKey := fmt.Sprintf("notify:%s:%s:%s", "enc1", "stu1", entry.TraceID)
	action, err := fixture.actionRepo.GetByDedupeKey(ctx, notifyKey)
	require.NoError(t, err)
	assert.Equal(t, "notify", action.ActionType)
	assert.Equal(t, 5, action.Priority)
	assert.Equal(t, dispatchDomain.ActionStatusPending, action.Status)
	assert.Equal(t, entry.TraceID, action.TraceID)

	// Worker claims and completes the action.
	require.NoError(t, fixture.worker.ProcessActions(ctx))
	action, err = fixture.actionRepo.GetByDedupeKey(ctx, notifyKey)
	require.NoError(t, err)
	assert.Equal(t, dispatchDomain.ActionStatusCompleted, action.Status)

	// Full lineage: INPUT on submit, OPERATION + OUTPUT from the delivery.
	records := fixture.waitForTraces(t, ctx, entry, 3)
	phases := make(map[traceDomain.Phase]traceDomain.Result)
	for _, record := range records {
		phases[record.Phase] = record.Result
	}
	assert.Equal(t, traceDomain.ResultPending, phases[traceDomain.PhaseInput])
	assert.Equal(t, traceDomain.ResultSuccess, phases[traceDomain.PhaseOutput])
}

// TestSync_DuplicateSubmissionAbsorbed covers scenario two: resubmitting the
// same business fact is a no-op everywhere.
func TestSync_DuplicateSubmissionAbsorbed(t *testing.T) {
	fixture := setupSyncFixture(t)
	ctx := context.Background()

	entry := fixture.submitIntent(t, ctx, outboxDomain.ActionKindSessionStart, "enc1", "sess1", "t1")

	// Same dedupe key again: absorbed, no new entry, and the caller sees the
	// originally queued row.
	key, err := outboxDomain.NewDedupeKey(outboxDomain.ActionKindSessionStart, "enc1", "sess1", "t1")
	require.NoError(t, err)
	duplicate, inserted, err := fixture.useCase.Submit(ctx, key, json.RawMessage(`{"present":true}`))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, entry.ID, duplicate.ID)
	assert.Equal(t, entry.TraceID, duplicate.TraceID)

	count, err := fixture.outboxRepo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	summary, err := fixture.engine.SweepAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, fixture.server.deliveryCount(entry.DedupeKey.String()))
}

// TestSync_OfflineThenRecovers covers the offline scenario: sweeps refuse to
// run while the server of record is unreachable, entries survive untouched,
// and the next sweep after recovery drains them.
func TestSync_OfflineThenRecovers(t *testing.T) {
	fixture := setupSyncFixture(t)
	ctx := context.Background()

	entry := fixture.submitIntent(t, ctx, outboxDomain.ActionKindInvoiceUpdate, "enc1", "inv9", "v2")

	fixture.server.setOnline(false)
	_, err := fixture.engine.SweepAll(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnavailable))

	status, attempts := fixture.outboxStatus(t, entry)
	assert.Equal(t, "pending", status)
	assert.Equal(t, 0, attempts)

	fixture.server.setOnline(true)
	summary, err := fixture.engine.SweepAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
}

// TestSync_TransientFailuresThenSuccess covers fail-twice-succeed-third: the
// entry stays pending with attempt bookkeeping until the server accepts it.
func TestSync_TransientFailuresThenSuccess(t *testing.T) {
	fixture := setupSyncFixture(t)
	ctx := context.Background()

	entry := fixture.submitIntent(t, ctx, outboxDomain.ActionKindConsultationSchedule, "enc1", "par3", "slot7")
	fixture.server.failTransiently(entry.DedupeKey.String(), 2)

	for i := 1; i <= 2; i++ {
		summary, err := fixture.engine.SweepAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Failed, "sweep %d should fail", i)

		status, attempts := fixture.outboxStatus(t, entry)
		assert.Equal(t, "pending", status)
		assert.Equal(t, i, attempts)
	}

	summary, err := fixture.engine.SweepAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	count, err := fixture.outboxRepo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

// TestSync_PermanentRejectionDeadLetters covers the permanent failure path:
// a 4xx response moves the entry to dead_letter and out of future sweeps.
func TestSync_PermanentRejectionDeadLetters(t *testing.T) {
	fixture := setupSyncFixture(t)
	ctx := context.Background()

	entry := fixture.submitIntent(t, ctx, outboxDomain.ActionKindSessionEnd, "enc1", "sess2", "t9")
	fixture.server.reject(entry.DedupeKey.String())

	summary, err := fixture.engine.SweepAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, syncService.Summary{Attempted: 1, DeadLettered: 1}, summary)

	status, _ := fixture.outboxStatus(t, entry)
	assert.Equal(t, "dead_letter", status)

	// Dead-lettered entries are excluded from subsequent sweeps.
	summary, err = fixture.engine.SweepAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Attempted)

	// The failure is visible in the trace lineage.
	records := fixture.waitForTraces(t, ctx, entry, 3)
	var sawFailure bool
	for _, record := range records {
		if record.Phase == traceDomain.PhaseOutput && record.Result == traceDomain.ResultFailure {
			sawFailure = true
		}
	}
	assert.True(t, sawFailure, "expected a failure OUTPUT record")
}

// TestSync_CrashRecovery simulates a crash between durable submit and
// delivery: a fresh engine built over the same database picks the entry up.
func TestSync_CrashRecovery(t *testing.T) {
	fixture := setupSyncFixture(t)
	ctx := context.Background()

	entry := fixture.submitIntent(t, ctx, outboxDomain.ActionKindPresenceRecord, "enc2", "stu5", "2026-08-28")

	// Nothing swept before the "crash"; the entry is durable in the database.
	count, err := fixture.outboxRepo.CountPending(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	// A brand new engine over the same database drains it after restart.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	restarted := syncService.NewEngine(
		syncService.Config{AttemptTimeout: 5 * time.Second, SweepInterval: time.Minute, BatchSize: 100},
		database.NewTxManager(fixture.db),
		outboxRepository.NewPostgreSQLOutboxRepository(fixture.db),
		syncService.NewHTTPRecordClient(fixture.server.server.URL, fixture.server.server.Client()),
		syncService.NewHTTPProbe(fixture.server.server.URL, time.Second, logger),
		fixture.dispatcher,
		fixture.recorder,
		nil, nil, logger,
	)

	summary, err := restarted.SweepAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, fixture.server.deliveryCount(entry.DedupeKey.String()))
}
