package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"catalog-sync/internal/models"
)

const statusColumns = "id, operation_id, current, total, error_text, current_operation, begin_operation, end_operation"

// StartStatus resets the status row of operationID for a new run, creating it when missing.
// Only finished or queued rows are reset; a row of an unfinished run yields ErrOperationRunning.
// An operationID of zero allocates a fresh operation id equal to the row id.
func (s *Store) StartStatus(ctx context.Context, operationID int64, phase string, begin time.Time) (*models.OperationStatus, error) {
	var status models.OperationStatus

	if operationID != 0 {
		err := s.db.GetContext(ctx, &status, `
			UPDATE price_synchronize_status
			SET current = 0, total = 0, error_text = NULL, current_operation = $1,
				begin_operation = $2, end_operation = NULL
			WHERE operation_id = $3 AND (end_operation IS NOT NULL OR current_operation = $4)
			RETURNING `+statusColumns,
			phase, begin, operationID, models.PhaseQueued)
		if err == nil {
			return &status, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to reset status %d: %w", operationID, err)
		}

		var running bool
		if err := s.db.GetContext(ctx, &running,
			"SELECT EXISTS (SELECT 1 FROM price_synchronize_status WHERE operation_id = $1)", operationID); err != nil {
			return nil, fmt.Errorf("failed to check status %d: %w", operationID, err)
		}
		if running {
			return nil, fmt.Errorf("status %d: %w", operationID, ErrOperationRunning)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	err = tx.GetContext(ctx, &status, `
		INSERT INTO price_synchronize_status (operation_id, current, total, current_operation, begin_operation)
		VALUES ($1, 0, 0, $2, $3)
		RETURNING `+statusColumns,
		operationID, phase, begin)
	if err != nil {
		return nil, fmt.Errorf("failed to create status: %w", err)
	}

	if operationID == 0 {
		if _, err := tx.ExecContext(ctx,
			"UPDATE price_synchronize_status SET operation_id = id WHERE id = $1", status.ID); err != nil {
			return nil, fmt.Errorf("failed to allocate operation id: %w", err)
		}
		status.OperationID = status.ID
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &status, nil
}

// UpdateProgress writes the step counters and phase of a running operation
func (s *Store) UpdateProgress(ctx context.Context, operationID int64, current, total int, phase string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE price_synchronize_status SET current = $1, total = $2, current_operation = $3
		WHERE operation_id = $4 AND end_operation IS NULL`,
		current, total, phase, operationID)
	return err
}

// FinishStatus finalizes an operation. The end timestamp and the error text are
// written by the same statement so readers observe both or neither.
func (s *Store) FinishStatus(ctx context.Context, operationID int64, end time.Time, phase string, errorText *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE price_synchronize_status SET end_operation = $1, current_operation = $2, error_text = $3
		WHERE operation_id = $4 AND end_operation IS NULL`,
		end, phase, errorText, operationID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("running operation %d: %w", operationID, ErrNotFound)
	}
	return nil
}

// GetStatusByOperationID retrieves the status record of an operation
func (s *Store) GetStatusByOperationID(ctx context.Context, operationID int64) (*models.OperationStatus, error) {
	var status models.OperationStatus
	err := s.db.GetContext(ctx, &status,
		"SELECT "+statusColumns+" FROM price_synchronize_status WHERE operation_id = $1 ORDER BY id DESC LIMIT 1",
		operationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("operation %d: %w", operationID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}
