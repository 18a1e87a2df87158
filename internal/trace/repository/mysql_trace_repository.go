package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/allisson/syncbox/internal/database"
	apperrors "github.com/allisson/syncbox/internal/errors"
	"github.com/allisson/syncbox/internal/trace/domain"
)

// MySQLTraceRepository implements append-only trace persistence for MySQL.
// UUIDs are stored as binary(16).
type MySQLTraceRepository struct {
	db *sql.DB
}

// NewMySQLTraceRepository creates a new MySQL trace repository.
func NewMySQLTraceRepository(db *sql.DB) *MySQLTraceRepository {
	return &MySQLTraceRepository{db: db}
}

// Create appends a trace record.
func (r *MySQLTraceRepository) Create(ctx context.Context, record *domain.Record) error {
	querier := database.GetTx(ctx, r.db)

	id, err := record.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to encode trace record id")
	}
	traceID, err := record.TraceID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to encode trace id")
	}

	var payload []byte
	if record.Payload != nil {
		payload = []byte(record.Payload)
	}

	query := `INSERT INTO trace_records (id, trace_id, phase, actor, action, target_type, target_id, payload, result, error_message, duration_ms, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = querier.ExecContext(ctx, query,
		id,
		traceID,
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
func (r *MySQLTraceRepository) ListByTraceID(ctx context.Context, traceID uuid.UUID) ([]*domain.Record, error) {
	querier := database.GetTx(ctx, r.db)

	binTraceID, err := traceID.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to encode trace id")
	}

	query := `SELECT id, trace_id, phase, actor, action, target_type, target_id, payload, result, error_message, duration_ms, created_at
			  FROM trace_records
			  WHERE trace_id = ?
			  ORDER BY created_at ASC, id ASC`

	rows, err := querier.QueryContext(ctx, query, binTraceID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list trace records")
	}
	defer func() {
		_ = rows.Close()
	}()

	records := make([]*domain.Record, 0)
	for rows.Next() {
		var record domain.Record
		var id, rowTraceID, payload []byte

		err := rows.Scan(
			&id,
			&rowTraceID,
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

		if record.ID, err = uuid.FromBytes(id); err != nil {
			return nil, apperrors.Wrap(err, "failed to decode trace record id")
		}
		if record.TraceID, err = uuid.FromBytes(rowTraceID); err != nil {
			return nil, apperrors.Wrap(err, "failed to decode trace id")
		}

		record.Payload = payload
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate trace records")
	}

	return records, nil
}
