// Package repository provides data persistence implementations for outbox entries.
package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/allisson/syncbox/internal/database"
	apperrors "github.com/allisson/syncbox/internal/errors"
	"github.com/allisson/syncbox/internal/outbox/domain"
)

// PostgreSQLOutboxRepository handles outbox entry persistence for PostgreSQL.
type PostgreSQLOutboxRepository struct {
	db *sql.DB
}

// NewPostgreSQLOutboxRepository creates a new PostgreSQLOutboxRepository.
func NewPostgreSQLOutboxRepository(db *sql.DB) *PostgreSQLOutboxRepository {
	return &PostgreSQLOutboxRepository{db: db}
}

// Create inserts a new outbox entry unless one with the same dedupe key already
// exists. Returns true when a row was inserted, false when the key collided.
// The insert commits before returning, so a crash immediately after Create
// cannot lose the entry.
func (r *PostgreSQLOutboxRepository) Create(ctx context.Context, entry *domain.Entry) (bool, error) {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO outbox_entries (id, dedupe_key, payload, trace_id, status, attempts, last_error, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			  ON CONFLICT (dedupe_key) DO NOTHING`

	result, err := querier.ExecContext(ctx, query,
		entry.ID,
		entry.DedupeKey.String(),
		[]byte(entry.Payload),
		entry.TraceID,
		entry.Status,
		entry.Attempts,
		entry.LastError,
		entry.CreatedAt,
	)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to create outbox entry")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to read outbox insert result")
	}

	return affected == 1, nil
}

// ListPending retrieves pending entries oldest first, up to limit.
func (r *PostgreSQLOutboxRepository) ListPending(ctx context.Context, limit int) ([]*domain.Entry, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, dedupe_key, payload, trace_id, status, attempts, last_error, created_at
			  FROM outbox_entries
			  WHERE status = $1
			  ORDER BY created_at ASC, id ASC
			  LIMIT $2`

	rows, err := querier.QueryContext(ctx, query, domain.EntryStatusPending, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list pending outbox entries")
	}
	defer func() {
		_ = rows.Close()
	}()

	return scanEntries(rows)
}

// GetByDedupeKey retrieves one entry by its dedupe key.
func (r *PostgreSQLOutboxRepository) GetByDedupeKey(ctx context.Context, dedupeKey string) (*domain.Entry, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, dedupe_key, payload, trace_id, status, attempts, last_error, created_at
			  FROM outbox_entries
			  WHERE dedupe_key = $1`

	rows, err := querier.QueryContext(ctx, query, dedupeKey)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get outbox entry by dedupe key")
	}
	defer func() {
		_ = rows.Close()
	}()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, apperrors.Wrap(apperrors.ErrNotFound, "outbox entry not found")
	}

	return entries[0], nil
}

// Delete removes an entry by physical id. Deleting an id that no longer exists
// is a no-op, not an error.
func (r *PostgreSQLOutboxRepository) Delete(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, r.db)

	_, err := querier.ExecContext(ctx, `DELETE FROM outbox_entries WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(err, "failed to delete outbox entry")
	}

	return nil
}

// CountPending returns the number of entries waiting for delivery.
func (r *PostgreSQLOutboxRepository) CountPending(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	var count int64
	err := querier.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox_entries WHERE status = $1`,
		domain.EntryStatusPending,
	).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count pending outbox entries")
	}

	return count, nil
}

// MarkAttemptFailed records a transient delivery failure. The entry stays pending.
func (r *PostgreSQLOutboxRepository) MarkAttemptFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	querier := database.GetTx(ctx, r.db)

	_, err := querier.ExecContext(ctx,
		`UPDATE outbox_entries SET attempts = attempts + 1, last_error = $1 WHERE id = $2`,
		lastError, id,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to record outbox attempt failure")
	}

	return nil
}

// MarkDeadLetter parks an entry the server rejected permanently. The row is kept
// for inspection but excluded from future sweeps.
func (r *PostgreSQLOutboxRepository) MarkDeadLetter(ctx context.Context, id uuid.UUID, lastError string) error {
	querier := database.GetTx(ctx, r.db)

	_, err := querier.ExecContext(ctx,
		`UPDATE outbox_entries SET status = $1, attempts = attempts + 1, last_error = $2 WHERE id = $3`,
		domain.EntryStatusDeadLetter, lastError, id,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to dead-letter outbox entry")
	}

	return nil
}

// scanEntries converts rows into domain entries, parsing stored dedupe keys.
func scanEntries(rows *sql.Rows) ([]*domain.Entry, error) {
	entries := make([]*domain.Entry, 0)
	for rows.Next() {
		var entry domain.Entry
		var dedupeKey string
		var payload []byte

		err := rows.Scan(
			&entry.ID,
			&dedupeKey,
			&payload,
			&entry.TraceID,
			&entry.Status,
			&entry.Attempts,
			&entry.LastError,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan outbox entry")
		}

		key, err := domain.ParseDedupeKey(dedupeKey)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to parse stored dedupe key")
		}
		entry.DedupeKey = key
		entry.Payload = payload

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate outbox entries")
	}

	return entries, nil
}
