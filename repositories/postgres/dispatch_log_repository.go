package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ribelo/prism-sub000/models"
	"github.com/ribelo/prism-sub000/repositories"
	"go.uber.org/zap"
)

const dispatchLogColumns = `id, request_id, inbound_format, vendor, model, original_model, confidence,
		       stream, auth_retried, attempts, status, status_code, input_tokens, output_tokens,
		       latency_ms, error_message, created_at`

// DispatchLogRepository implements the repositories.DispatchLogRepository interface
type DispatchLogRepository struct {
	db     *DB
	tx     repositories.Transaction
	logger *zap.Logger
}

// NewDispatchLogRepository creates a new dispatch log repository
func NewDispatchLogRepository(db *DB, logger *zap.Logger) repositories.DispatchLogRepository {
	return &DispatchLogRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new dispatch record
func (r *DispatchLogRepository) Insert(ctx context.Context, log *models.DispatchLog) error {
	query := `
		INSERT INTO dispatch_logs (
			id, request_id, inbound_format, vendor, model, original_model, confidence,
			stream, auth_retried, attempts, status, status_code, input_tokens, output_tokens,
			latency_ms, error_message, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
	`

	executor := bindExecutor(ctx, r.db, r.tx)
	_, err := executor.ExecContext(ctx, query,
		log.ID,
		log.RequestID,
		log.InboundFormat,
		log.Vendor,
		log.Model,
		log.OriginalModel,
		log.Confidence,
		log.Stream,
		log.AuthRetried,
		log.Attempts,
		log.Status,
		log.StatusCode,
		log.InputTokens,
		log.OutputTokens,
		log.LatencyMs,
		log.ErrorMessage,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dispatch log: %w", err)
	}

	r.logger.Debug("dispatch log inserted", zap.String("id", log.ID.String()), zap.String("status", string(log.Status)))
	return nil
}

// GetByID retrieves a dispatch record by ID
func (r *DispatchLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DispatchLog, error) {
	query := `SELECT ` + dispatchLogColumns + ` FROM dispatch_logs WHERE id = $1`

	executor := bindExecutor(ctx, r.db, r.tx)
	log, err := scanDispatchLog(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("dispatch log %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get dispatch log: %w", err)
	}
	return log, nil
}

// GetByRequestID retrieves the records of one gateway request
func (r *DispatchLogRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.DispatchLog, error) {
	query := `SELECT ` + dispatchLogColumns + ` FROM dispatch_logs WHERE request_id = $1 ORDER BY created_at`
	return r.queryDispatchLogs(ctx, query, requestID)
}

// GetByVendor retrieves records for a vendor with pagination, newest first
func (r *DispatchLogRepository) GetByVendor(ctx context.Context, vendor string, limit, offset int) ([]*models.DispatchLog, error) {
	query := `SELECT ` + dispatchLogColumns + ` FROM dispatch_logs
		WHERE vendor = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	return r.queryDispatchLogs(ctx, query, vendor, limit, offset)
}

// GetByDateRange retrieves records created within a date range
func (r *DispatchLogRepository) GetByDateRange(ctx context.Context, start, end time.Time, limit, offset int) ([]*models.DispatchLog, error) {
	query := `SELECT ` + dispatchLogColumns + ` FROM dispatch_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`
	return r.queryDispatchLogs(ctx, query, start, end, limit, offset)
}

// WithTx returns a new repository instance bound to the transaction
func (r *DispatchLogRepository) WithTx(tx repositories.Transaction) repositories.DispatchLogRepository {
	return &DispatchLogRepository{
		db:     r.db,
		tx:     tx,
		logger: r.logger,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDispatchLog(row rowScanner) (*models.DispatchLog, error) {
	log := &models.DispatchLog{}
	err := row.Scan(
		&log.ID,
		&log.RequestID,
		&log.InboundFormat,
		&log.Vendor,
		&log.Model,
		&log.OriginalModel,
		&log.Confidence,
		&log.Stream,
		&log.AuthRetried,
		&log.Attempts,
		&log.Status,
		&log.StatusCode,
		&log.InputTokens,
		&log.OutputTokens,
		&log.LatencyMs,
		&log.ErrorMessage,
		&log.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return log, nil
}

func (r *DispatchLogRepository) queryDispatchLogs(ctx context.Context, query string, args ...interface{}) ([]*models.DispatchLog, error) {
	executor := bindExecutor(ctx, r.db, r.tx)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatch logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.DispatchLog
	for rows.Next() {
		log, err := scanDispatchLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dispatch log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dispatch logs: %w", err)
	}
	return logs, nil
}
