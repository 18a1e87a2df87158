// Package repository provides data persistence implementations for action queue entries.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/allisson/syncbox/internal/database"
	"github.com/allisson/syncbox/internal/dispatch/domain"
	apperrors "github.com/allisson/syncbox/internal/errors"
)

// PostgreSQLActionRepository handles action queue persistence for PostgreSQL.
type PostgreSQLActionRepository struct {
	db *sql.DB
}

// NewPostgreSQLActionRepository creates a new PostgreSQLActionRepository.
func NewPostgreSQLActionRepository(db *sql.DB) *PostgreSQLActionRepository {
	return &PostgreSQLActionRepository{db: db}
}

// Enqueue inserts a new action unless one with the same dedupe key already
// exists. Returns true when a row was inserted, false when the key collided.
func (r *PostgreSQLActionRepository) Enqueue(ctx context.Context, action *domain.Action) (bool, error) {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO action_queue_entries
			  (id, action_type, priority, status, payload, retry_count, max_retries,
			   next_retry_at, last_error, expires_at, dedupe_key, trace_id, result,
			   processed_at, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			  ON CONFLICT (dedupe_key) DO NOTHING`

	result, err := querier.ExecContext(ctx, query,
		action.ID,
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
		action.TraceID,
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

// ClaimPending atomically moves up to limit claimable actions to PROCESSING
// and returns them, highest priority first. Concurrent workers skip each
// other's locked rows instead of blocking.
func (r *PostgreSQLActionRepository) ClaimPending(ctx context.Context, limit int, now time.Time) ([]*domain.Action, error) {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE action_queue_entries SET status = $1, updated_at = $2
			  WHERE id IN (
				  SELECT id FROM action_queue_entries
				  WHERE status IN ($3, $4)
					AND retry_count < max_retries
					AND next_retry_at <= $2
					AND expires_at > $2
				  ORDER BY priority DESC, next_retry_at ASC, id ASC
				  LIMIT $5
				  FOR UPDATE SKIP LOCKED
			  )
			  RETURNING id, action_type, priority, status, payload, retry_count, max_retries,
						next_retry_at, last_error, expires_at, dedupe_key, trace_id, result,
						processed_at, created_at, updated_at`

	rows, err := querier.QueryContext(ctx, query,
		domain.ActionStatusProcessing,
		now.UTC(),
		domain.ActionStatusPending,
		domain.ActionStatusFailed,
		limit,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to claim pending actions")
	}
	defer func() {
		_ = rows.Close()
	}()

	return scanActions(rows)
}

// MarkCompleted persists a completed action's terminal state.
func (r *PostgreSQLActionRepository) MarkCompleted(ctx context.Context, action *domain.Action) error {
	querier := database.GetTx(ctx, r.db)

	_, err := querier.ExecContext(ctx,
		`UPDATE action_queue_entries SET status = $1, result = $2, processed_at = $3, updated_at = $4 WHERE id = $5`,
		action.Status, action.Result, action.ProcessedAt, action.UpdatedAt, action.ID,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to mark action completed")
	}

	return nil
}

// MarkFailed persists a failed attempt's retry bookkeeping.
func (r *PostgreSQLActionRepository) MarkFailed(ctx context.Context, action *domain.Action) error {
	querier := database.GetTx(ctx, r.db)

	_, err := querier.ExecContext(ctx,
		`UPDATE action_queue_entries
		 SET status = $1, retry_count = $2, last_error = $3, next_retry_at = $4, updated_at = $5
		 WHERE id = $6`,
		action.Status, action.RetryCount, action.LastError, action.NextRetryAt, action.UpdatedAt, action.ID,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to mark action failed")
	}

	return nil
}

// MarkExpired persists an expired action's terminal state.
func (r *PostgreSQLActionRepository) MarkExpired(ctx context.Context, action *domain.Action) error {
	querier := database.GetTx(ctx, r.db)

	_, err := querier.ExecContext(ctx,
		`UPDATE action_queue_entries SET status = $1, updated_at = $2 WHERE id = $3`,
		action.Status, action.UpdatedAt, action.ID,
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
func (r *PostgreSQLActionRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx,
		`UPDATE action_queue_entries SET status = $1, updated_at = $2
		 WHERE status IN ($3, $4, $5) AND expires_at <= $2`,
		domain.ActionStatusExpired, now.UTC(),
		domain.ActionStatusPending, domain.ActionStatusFailed, domain.ActionStatusProcessing,
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
func (r *PostgreSQLActionRepository) CountByStatus(ctx context.Context, status domain.ActionStatus) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	var count int64
	err := querier.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM action_queue_entries WHERE status = $1`,
		status,
	).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count actions by status")
	}

	return count, nil
}

// GetByDedupeKey retrieves one action by its dedupe key.
func (r *PostgreSQLActionRepository) GetByDedupeKey(ctx context.Context, dedupeKey string) (*domain.Action, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, action_type, priority, status, payload, retry_count, max_retries,
					 next_retry_at, last_error, expires_at, dedupe_key, trace_id, result,
					 processed_at, created_at, updated_at
			  FROM action_queue_entries
			  WHERE dedupe_key = $1`

	rows, err := querier.QueryContext(ctx, query, dedupeKey)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get action by dedupe key")
	}
	defer func() {
		_ = rows.Close()
	}()

	actions, err := scanActions(rows)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, apperrors.Wrap(apperrors.ErrNotFound, "action not found")
	}

	return actions[0], nil
}

// scanActions converts rows into domain actions.
func scanActions(rows *sql.Rows) ([]*domain.Action, error) {
	actions := make([]*domain.Action, 0)
	for rows.Next() {
		var action domain.Action
		var payload []byte

		err := rows.Scan(
			&action.ID,
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
			&action.TraceID,
			&action.Result,
			&action.ProcessedAt,
			&action.CreatedAt,
			&action.UpdatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan action")
		}

		action.Payload = payload
		actions = append(actions, &action)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate actions")
	}

	return actions, nil
}
