package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/syncbox/internal/dispatch/domain"
	"github.com/allisson/syncbox/internal/testutil"
)

func TestMySQLActionRepository_EnqueueIsIdempotent(t *testing.T) {
	testutil.SkipIfNoMySQL(t)
	db := testutil.SetupMySQLDB(t)
	defer testutil.TeardownDB(t, db)

	repo := NewMySQLActionRepository(db)
	ctx := context.Background()

	action := newTestAction(t, "notify:enc1:stu1:v1", 5)
	inserted, err := repo.Enqueue(ctx, action)
	require.NoError(t, err)
	assert.True(t, inserted)

	duplicate := newTestAction(t, "notify:enc1:stu1:v1", 5)
	inserted, err = repo.Enqueue(ctx, duplicate)
	require.NoError(t, err)
	assert.False(t, inserted)

	count, err := repo.CountByStatus(ctx, domain.ActionStatusPending)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestMySQLActionRepository_ClaimAndComplete(t *testing.T) {
	testutil.SkipIfNoMySQL(t)
	db := testutil.SetupMySQLDB(t)
	defer testutil.TeardownDB(t, db)

	repo := NewMySQLActionRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	action := newTestAction(t, "notify:enc1:stu1:v1", 5)
	_, err := repo.Enqueue(ctx, action)
	require.NoError(t, err)

	claimed, err := repo.ClaimPending(ctx, 10, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, action.ID, claimed[0].ID)
	assert.Equal(t, domain.ActionStatusProcessing, claimed[0].Status)

	result := `{"delivered":true}`
	completed := claimed[0]
	require.NoError(t, completed.MarkCompleted(&result, now))
	require.NoError(t, repo.MarkCompleted(ctx, completed))

	stored, err := repo.GetByDedupeKey(ctx, action.DedupeKey)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionStatusCompleted, stored.Status)
	assert.Equal(t, action.TraceID, stored.TraceID)
}

func TestMySQLActionRepository_ExpireOverdueReapsStrandedProcessing(t *testing.T) {
	testutil.SkipIfNoMySQL(t)
	db := testutil.SetupMySQLDB(t)
	defer testutil.TeardownDB(t, db)

	repo := NewMySQLActionRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	action := newTestAction(t, "notify:enc1:stu1:v1", 5)
	_, err := repo.Enqueue(ctx, action)
	require.NoError(t, err)

	// A worker claims the action and dies before persisting an outcome,
	// leaving the row in PROCESSING.
	claimed, err := repo.ClaimPending(ctx, 10, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, domain.ActionStatusProcessing, claimed[0].Status)

	expired, err := repo.ExpireOverdue(ctx, action.ExpiresAt.Add(time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 1, expired)

	stored, err := repo.GetByDedupeKey(ctx, action.DedupeKey)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionStatusExpired, stored.Status)
}

// The sqlmock tests below cover error propagation without needing a live server.

func TestMySQLActionRepository_EnqueuePropagatesDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT IGNORE INTO action_queue_entries").
		WillReturnError(errors.New("connection reset"))

	repo := NewMySQLActionRepository(db)
	action := newTestAction(t, "notify:enc1:stu1:v1", 5)

	_, err = repo.Enqueue(context.Background(), action)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLActionRepository_ClaimPendingRejectsCorruptID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	action := newTestAction(t, "notify:enc1:stu1:v1", 5)
	traceID, _ := action.TraceID.MarshalBinary()

	rows := sqlmock.NewRows([]string{
		"id", "action_type", "priority", "status", "payload", "retry_count", "max_retries",
		"next_retry_at", "last_error", "expires_at", "dedupe_key", "trace_id", "result",
		"processed_at", "created_at", "updated_at",
	}).AddRow(
		[]byte{0x01}, action.ActionType, action.Priority, action.Status, []byte(`{}`),
		0, 3, action.NextRetryAt, nil, action.ExpiresAt, action.DedupeKey, traceID, nil,
		nil, action.CreatedAt, action.UpdatedAt,
	)

	mock.ExpectQuery("SELECT (.+) FROM action_queue_entries").WillReturnRows(rows)

	repo := NewMySQLActionRepository(db)
	_, err = repo.ClaimPending(context.Background(), 10, time.Now())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
