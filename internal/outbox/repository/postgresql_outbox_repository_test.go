package repository

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/allisson/syncbox/internal/errors"
	"github.com/allisson/syncbox/internal/outbox/domain"
	"github.com/allisson/syncbox/internal/testutil"
)

func newTestEntry(t *testing.T, kind domain.ActionKind, scope, subject, token string) *domain.Entry {
	t.Helper()

	key, err := domain.NewDedupeKey(kind, scope, subject, token)
	require.NoError(t, err)

	entry, err := domain.NewEntry(key, json.RawMessage(`{"status":"ABSENT"}`))
	require.NoError(t, err)
	return entry
}

func TestPostgreSQLOutboxRepository_CreateIsIdempotent(t *testing.T) {
	testutil.SkipIfNoPostgres(t)
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)

	repo := NewPostgreSQLOutboxRepository(db)
	ctx := context.Background()

	first := newTestEntry(t, domain.ActionKindPresenceRecord, "enc1", "stu1", "v1")
	inserted, err := repo.Create(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same dedupe key, different payload and ids: must not grow the queue.
	duplicate := newTestEntry(t, domain.ActionKindPresenceRecord, "enc1", "stu1", "v1")
	duplicate.Payload = json.RawMessage(`{"status":"PRESENT"}`)
	inserted, err = repo.Create(ctx, duplicate)
	require.NoError(t, err)
	assert.False(t, inserted)

	count, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestPostgreSQLOutboxRepository_GetByDedupeKey(t *testing.T) {
	testutil.SkipIfNoPostgres(t)
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)

	repo := NewPostgreSQLOutboxRepository(db)
	ctx := context.Background()

	entry := newTestEntry(t, domain.ActionKindPresenceRecord, "enc1", "stu1", "v1")
	_, err := repo.Create(ctx, entry)
	require.NoError(t, err)

	stored, err := repo.GetByDedupeKey(ctx, entry.DedupeKey.String())
	require.NoError(t, err)
	assert.Equal(t, entry.ID, stored.ID)
	assert.Equal(t, entry.TraceID, stored.TraceID)
	assert.JSONEq(t, string(entry.Payload), string(stored.Payload))

	_, err = repo.GetByDedupeKey(ctx, "presence.record:missing:missing:v1")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestPostgreSQLOutboxRepository_ListPendingOldestFirst(t *testing.T) {
	testutil.SkipIfNoPostgres(t)
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)

	repo := NewPostgreSQLOutboxRepository(db)
	ctx := context.Background()

	older := newTestEntry(t, domain.ActionKindPresenceRecord, "enc1", "stu1", "day1")
	newer := newTestEntry(t, domain.ActionKindPresenceRecord, "enc1", "stu1", "day2")
	newer.CreatedAt = older.CreatedAt.Add(1)

	_, err := repo.Create(ctx, newer)
	require.NoError(t, err)
	_, err = repo.Create(ctx, older)
	require.NoError(t, err)

	entries, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, older.ID, entries[0].ID)
	assert.Equal(t, newer.ID, entries[1].ID)

	// Round-trip fidelity: the stored entry comes back unchanged.
	assert.Equal(t, older.DedupeKey, entries[0].DedupeKey)
	assert.JSONEq(t, string(older.Payload), string(entries[0].Payload))
	assert.Equal(t, older.TraceID, entries[0].TraceID)
}

func TestPostgreSQLOutboxRepository_DeleteMissingIsNoOp(t *testing.T) {
	testutil.SkipIfNoPostgres(t)
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)

	repo := NewPostgreSQLOutboxRepository(db)
	ctx := context.Background()

	entry := newTestEntry(t, domain.ActionKindSessionStart, "coach1", "ses1", "v1")
	_, err := repo.Create(ctx, entry)
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, entry.ID))
	// Second delete of the same id must not error.
	require.NoError(t, repo.Delete(ctx, entry.ID))
	// Nor deleting an id that never existed.
	require.NoError(t, repo.Delete(ctx, uuid.Must(uuid.NewV7())))

	count, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestPostgreSQLOutboxRepository_MarkAttemptFailedKeepsEntryPending(t *testing.T) {
	testutil.SkipIfNoPostgres(t)
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)

	repo := NewPostgreSQLOutboxRepository(db)
	ctx := context.Background()

	entry := newTestEntry(t, domain.ActionKindInvoiceUpdate, "org1", "inv1", "v1")
	_, err := repo.Create(ctx, entry)
	require.NoError(t, err)

	require.NoError(t, repo.MarkAttemptFailed(ctx, entry.ID, "server returned 503"))
	require.NoError(t, repo.MarkAttemptFailed(ctx, entry.ID, "timeout"))

	entries, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Attempts)
	require.NotNil(t, entries[0].LastError)
	assert.Equal(t, "timeout", *entries[0].LastError)
}

func TestPostgreSQLOutboxRepository_MarkDeadLetterExcludesFromSweeps(t *testing.T) {
	testutil.SkipIfNoPostgres(t)
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)

	repo := NewPostgreSQLOutboxRepository(db)
	ctx := context.Background()

	entry := newTestEntry(t, domain.ActionKindInvoiceUpdate, "org1", "inv2", "v1")
	_, err := repo.Create(ctx, entry)
	require.NoError(t, err)

	require.NoError(t, repo.MarkDeadLetter(ctx, entry.ID, "server returned 422"))

	entries, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	count, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	// The row itself is kept for inspection.
	var status string
	err = db.QueryRowContext(ctx, `SELECT status FROM outbox_entries WHERE id = $1`, entry.ID).Scan(&status)
	require.NoError(t, err)
	assert.Equal(t, string(domain.EntryStatusDeadLetter), status)
}
