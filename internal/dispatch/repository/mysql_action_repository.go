package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/syncbox/internal/database"
	"github.com/allisson/syncbox/internal/dispatch/domain"
	apperrors "github.com/allisson/syncbox/internal/errors"
)

// MySQLActionRepository handles action queue persistence for MySQL.
// UUIDs are stored as binary(16).
type MySQLActionRepository struct {
	db *sql.DB
}

// NewMySQLActionRepository creates a new MySQLActionRepository.
func NewMySQLActionRepository(db *sql.DB) *MySQLActionRepository {
	return &MySQLActionRepository{db: db}
}

// Enqueue inserts a new action unless one with the same dedupe key already
// exists. INSERT IGNORE absorbs the unique-key collision; rows affected tells
// the caller whether the action was actually inserted.
func (r *MySQLActionRepository) Enqueue(ctx context.Context, action *domain.Action) (bool, error) {
	querier := database.GetTx(ctx, r.db)

	id, err := action.ID.MarshalBinary()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to encode action id")
	}
	traceID, err := action.TraceID.MarshalBinary()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to encode action trace id")
	}

	query := `INSERT IGNORE INTO action_queue_entries
			  (id, action_type, priority, status, payload, retry_count, max_retries,
			   next_retry_at, last_error, expires_at, dedupe_key, trace_id, result,
			   processed_at, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := querier.ExecContext(ctx, query,
		id,
		action.ActionType,
		action.Priority,
		action.Status,
		[]byte(action.Payload),
		action.RetryCount,
		action.MaxRetries,
		action.NextRetryAt,
		action.LastError,
		action.ExpiresAt,
		action.DedupeKey,
		traceID,
		action.Result,
		action.ProcessedAt,
		action.CreatedAt,
		action.UpdatedAt,
	)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to enqueue action")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to read action insert result")
	}

	return affected == 1, nil
}

// ClaimPending moves up to limit claimable actions to PROCESSING and returns
// them, highest priority first. MySQL has no UPDATE ... RETURNING, so the
// claim selects with SKIP LOCKED and updates in two steps; callers must run
// it inside a transaction for the locks to hold.
func (r *MySQLActionRepository) ClaimPending(ctx context.Context, limit int, now time.Time) ([]*domain.Action, error) {
	querier := database.GetTx(ctx, r.db)
	now = now.UTC()

	query := `SELECT id, action_type, priority, status, payload, retry_count, max_retries,
					 next_retry_at, last_error, expires_at, dedupe_key, trace_id, result,
					 processed_at, created_at, updated_at
			  FROM action_queue_entries
			  WHERE status IN (?, ?)
				AND retry_count < max_retries
				AND next_retry_at <= ?
				AND expires_at > ?
			  ORDER BY priority DESC, next_retry_at ASC, id ASC
			  LIMIT ?
			  FOR UPDATE SKIP LOCKED`

	rows, err := querier.QueryContext(ctx, query,
		domain.ActionStatusPending,
		domain.ActionStatusFailed,
		now,
		now,
		limit,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to claim pending actions")
	}

	actions, err := scanMySQLActions(rows)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	for _, action := range actions {
		binID, err := action.ID.MarshalBinary()
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to encode action id")
		}

		_, err = querier.ExecContext(ctx,
			`UPDATE action_queue_entries SET status = ?, updated_at = ? WHERE id = ?`,
			domain.ActionStatusProcessing, now, binID,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to mark action processing")
		}

		action.Status = domain.ActionStatusProcessing
		action.UpdatedAt = now
	}

	return actions, nil
}

// MarkCompleted persists a completed action's terminal state.
func (r *MySQLActionRepository) MarkCompleted(ctx context.Context, action *domain.Action) error {
	querier := database.GetTx(ctx, r.db)

	binID, err := action.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to encode action id")
	}

	_, err = querier.ExecContext(ctx,
		`UPDATE action_queue_entries SET status = ?, result = ?, processed_at = ?, updated_at = ? WHERE id = ?`,
		action.Status, action.Result, action.ProcessedAt, action.UpdatedAt, binID,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to mark action completed")
	}

	return nil
}

// MarkFailed persists a failed attempt's retry bookkeeping.
func (r *MySQLActionRepository) MarkFailed(ctx context.Context, action *domain.Action) error {
	querier := database.GetTx(ctx, r.db)

	binID, err := action.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to encode action id")
	}

	_, err = querier.ExecContext(ctx,
		`UPDATE action_queue_entries
		 SET status = ?, retry_count = ?, last_error = ?, next_retry_at = ?, updated_at = ?
		 WHERE id = ?`,
		action.Status, action.RetryCount, action.LastError, action.NextRetryAt, action.UpdatedAt, binID,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to mark action failed")
	}

	return nil
}

// MarkExpired persists an expired action's terminal state.
func (r *MySQLActionRepository) MarkExpired(ctx context.Context, action *domain.Action) error {
	querier := database.GetTx(ctx, r.db)

	binID, err := action.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to encode action id")
	}

	_, err = querier.ExecContext(ctx,
		`UPDATE action_queue_entries SET status = ?, updated_at = ? WHERE id = ?`,
		action.Status, action.UpdatedAt, binID,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to mark action expired")
	}

	return nil
}

// ExpireOverdue bulk-expires non-terminal actions whose TTL has passed and
// returns how many were expired. PROCESSING rows are included so an action
// claimed by a worker that died before persisting an outcome is eventually
// expired instead of stranded.
func (r *MySQLActionRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx,
		`UPDATE action_queue_entries SET status = ?, updated_at = ?
		 WHERE status IN (?, ?, ?) AND expires_at <= ?`,
		domain.ActionStatusExpired, now.UTC(),
		domain.ActionStatusPending, domain.ActionStatusFailed, domain.ActionStatusProcessing, now.UTC(),
	)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to expire overdue actions")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to read expire result")
	}

	return affected, nil
}

// CountByStatus returns the number of actions currently in the given status.
func (r *MySQLActionRepository) CountByStatus(ctx context.Context, status domain.ActionStatus) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	var count int64
	err := querier.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM action_queue_entries WHERE status = ?`,
		status,
	).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count actions by status")
	}

	return count, nil
}

// GetByDedupeKey retrieves one action by its dedupe key.
func (r *MySQLActionRepository) GetByDedupeKey(ctx context.Context, dedupeKey string) (*domain.Action, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, action_type, priority, status, payload, retry_count, max_retries,
					 next_retry_at, last_error, expires_at, dedupe_key, trace_id, result,
					 processed_at, created_at, updated_at
			  FROM action_queue_entries
			  WHERE dedupe_key = ?`

	rows, err := querier.QueryContext(ctx, query, dedupeKey)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get action by dedupe key")
	}
	defer func() {
		_ = rows.Close()
	}()

	actions, err := scanMySQLActions(rows)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, apperrors.Wrap(apperrors.ErrNotFound, "action not found")
	}

	return actions[0], nil
}

// scanMySQLActions converts rows into domain actions, decoding binary UUIDs.
func scanMySQLActions(rows *sql.Rows) ([]*domain.Action, error) {
	actions := make([]*domain.Action, 0)
	for rows.Next() {
		var action domain.Action
		var id, traceID, payload []byte

		err := rows.Scan(
			&id,
			&action.ActionType,
			&action.Priority,
			&action.Status,
			&payload,
			&action.RetryCount,
			&action.MaxRetries,
			&action.NextRetryAt,
			&action.LastError,
			&action.ExpiresAt,
			&action.DedupeKey,
			&traceID,
			&action.Result,
			&action.ProcessedAt,
			&action.CreatedAt,
			&action.UpdatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan action")
		}

		if action.ID, err = uuid.FromBytes(id); err != nil {
			return nil, apperrors.Wrap(err, "failed to decode action id")
		}
		if action.TraceID, err = uuid.FromBytes(traceID); err != nil {
			return nil, apperrors.Wrap(err, "failed to decode action trace id")
		}

		action.Payload = payload
		actions = append(actions, &action)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate actions")
	}

	return actions, nil
}
