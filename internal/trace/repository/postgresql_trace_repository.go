// Package repository provides data persistence implementations for trace records.
package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/allisson/syncbox/internal/database"
	apperrors "github.com/allisson/syncbox/internal/errors"
	"github.com/allisson/syncbox/internal/trace/domain"
)

// PostgreSQLTraceRepository implements append-only trace persistence for PostgreSQL.
// There is deliberately no update or delete operation.
type PostgreSQLTraceRepository struct {
	db *sql.DB
}

// NewPostgreSQLTraceRepository creates a new PostgreSQL trace repository.
func NewPostgreSQLTraceRepository(db *sql.DB) *PostgreSQLTraceRepository {
	return &PostgreSQLTraceRepository{db: db}
}

// Create appends a trace record.
func (r *PostgreSQLTraceRepository) Create(ctx context.Context, record *domain.Record) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO trace_records (id, trace_id, phase, actor, action, target_type, target_id, payload, result, error_message, duration_ms, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	var payload []byte
	if record.Payload != nil {
		payload = []byte(record.Payload)
	}

	_, err := querier.ExecContext(ctx, query,
		record.ID,
		record.TraceID,
		record.Phase,
		record.Actor,
		record.Action,
		record.TargetType,
		record.TargetID,
		payload,
		record.Result,
		record.ErrorMessage,
		record.DurationMS,
		record.CreatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to append trace record")
	}

	return nil
}

// ListByTraceID retrieves all records of one trace in append order.
func (r *PostgreSQLTraceRepository) ListByTraceID(ctx context.Context, traceID uuid.UUID) ([]*domain.Record, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, trace_id, phase, actor, action, target_type, target_id, payload, result, error_message, duration_ms, created_at
			  FROM trace_records
			  WHERE trace_id = $1
			  ORDER BY created_at ASC, id ASC`

	rows, err := querier.QueryContext(ctx, query, traceID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list trace records")
	}
	defer func() {
		_ = rows.Close()
	}()

	records := make([]*domain.Record, 0)
	for rows.Next() {
		var record domain.Record
		var payload []byte

		err := rows.Scan(
			&record.ID,
			&record.TraceID,
			&record.Phase,
			&record.Actor,
			&record.Action,
			&record.TargetType,
			&record.TargetID,
			&payload,
			&record.Result,
			&record.ErrorMessage,
			&record.DurationMS,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan trace record")
		}

		record.Payload = payload
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate trace records")
	}

	return records, nil
}
