package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/allisson/syncbox/internal/database"
	apperrors "github.com/allisson/syncbox/internal/errors"
	"github.com/allisson/syncbox/internal/outbox/domain"
)

// MySQLOutboxRepository handles outbox entry persistence for MySQL.
// UUIDs are stored as binary(16).
type MySQLOutboxRepository struct {
	db *sql.DB
}

// NewMySQLOutboxRepository creates a new MySQLOutboxRepository.
func NewMySQLOutboxRepository(db *sql.DB) *MySQLOutboxRepository {
	return &MySQLOutboxRepository{db: db}
}

// Create inserts a new outbox entry unless one with the same dedupe key already
// exists. INSERT IGNORE absorbs the unique-key collision; rows affected tells
// the caller whether the entry was actually inserted.
func (r *MySQLOutboxRepository) Create(ctx context.Context, entry *domain.Entry) (bool, error) {
	querier := database.GetTx(ctx, r.db)

	id, err := entry.ID.MarshalBinary()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to encode outbox entry id")
	}
	traceID, err := entry.TraceID.MarshalBinary()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to encode outbox trace id")
	}

	query := `INSERT IGNORE INTO outbox_entries (id, dedupe_key, payload, trace_id, status, attempts, last_error, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := querier.ExecContext(ctx, query,
		id,
		entry.DedupeKey.String(),
		[]byte(entry.Payload),
		traceID,
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
func (r *MySQLOutboxRepository) ListPending(ctx context.Context, limit int) ([]*domain.Entry, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, dedupe_key, payload, trace_id, status, attempts, last_error, created_at
			  FROM outbox_entries
			  WHERE status = ?
			  ORDER BY created_at ASC, id ASC
			  LIMIT ?`

	rows, err := querier.QueryContext(ctx, query, domain.EntryStatusPending, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list pending outbox entries")
	}
	defer func() {
		_ = rows.Close()
	}()

	return scanMySQLEntries(rows)
}

// GetByDedupeKey retrieves one entry by its dedupe key.
func (r *MySQLOutboxRepository) GetByDedupeKey(ctx context.Context, dedupeKey string) (*domain.Entry, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, dedupe_key, payload, trace_id, status, attempts, last_error, created_at
			  FROM outbox_entries
			  WHERE dedupe_key = ?`

	rows, err := querier.QueryContext(ctx, query, dedupeKey)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get outbox entry by dedupe key")
	}
	defer func() {
		_ = rows.Close()
	}()

	entries, err := scanMySQLEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, apperrors.Wrap(apperrors.ErrNotFound, "outbox entry not found")
	}

	return entries[0], nil
}

// Delete removes an entry by physical id; missing ids are a no-op.
func (r *MySQLOutboxRepository) Delete(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, r.db)

	binID, err := id.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to encode outbox entry id")
	}

	_, err = querier.ExecContext(ctx, `DELETE FROM outbox_entries WHERE id = ?`, binID)
	if err != nil {
		return apperrors.Wrap(err, "failed to delete outbox entry")
	}

	return nil
}

// CountPending returns the number of entries waiting for delivery.
func (r *MySQLOutboxRepository) CountPending(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	var count int64
	err := querier.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox_entries WHERE status = ?`,
		domain.EntryStatusPending,
	).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count pending outbox entries")
	}

	return count, nil
}

// MarkAttemptFailed records a transient delivery failure. The entry stays pending.
func (r *MySQLOutboxRepository) MarkAttemptFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	querier := database.GetTx(ctx, r.db)

	binID, err := id.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to encode outbox entry id")
	}

	_, err = querier.ExecContext(ctx,
		`UPDATE outbox_entries SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		lastError, binID,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to record outbox attempt failure")
	}

	return nil
}

// MarkDeadLetter parks an entry the server rejected permanently.
func (r *MySQLOutboxRepository) MarkDeadLetter(ctx context.Context, id uuid.UUID, lastError string) error {
	querier := database.GetTx(ctx, r.db)

	binID, err := id.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to encode outbox entry id")
	}

	_, err = querier.ExecContext(ctx,
		`UPDATE outbox_entries SET status = ?, attempts = attempts + 1, last_error = ? WHERE id = ?`,
		domain.EntryStatusDeadLetter, lastError, binID,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to dead-letter outbox entry")
	}

	return nil
}

// scanMySQLEntries converts rows into domain entries, decoding binary UUIDs.
func scanMySQLEntries(rows *sql.Rows) ([]*domain.Entry, error) {
	entries := make([]*domain.Entry, 0)
	for rows.Next() {
		var entry domain.Entry
		var id, traceID, payload []byte
		var dedupeKey string

		err := rows.Scan(
			&id,
			&dedupeKey,
			&payload,
			&traceID,
			&entry.Status,
			&entry.Attempts,
			&entry.LastError,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan outbox entry")
		}

		if entry.ID, err = uuid.FromBytes(id); err != nil {
			return nil, apperrors.Wrap(err, "failed to decode outbox entry id")
		}
		if entry.TraceID, err = uuid.FromBytes(traceID); err != nil {
			return nil, apperrors.Wrap(err, "failed to decode outbox trace id")
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
