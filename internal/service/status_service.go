package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catalog-sync/internal/models"
	"catalog-sync/internal/store"
	"catalog-sync/internal/util"

	"go.uber.org/zap"
)

// StatusService reads and writes the pollable progress record of operations
type StatusService struct {
	repo   StatusRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewStatusService creates a new status service
func NewStatusService(repo StatusRepository) *StatusService {
	return &StatusService{
		repo:   repo,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// Allocate creates a queued status record for a run that will start later
func (s *StatusService) Allocate(ctx context.Context) (*models.OperationStatus, error) {
	status, err := s.repo.StartStatus(ctx, 0, models.PhaseQueued, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to allocate operation status: %w", err)
	}
	return status, nil
}

// Begin starts (or restarts) the status record of an operation. Zero allocates a new operation id.
// A record that still belongs to an unfinished run is left alone and ErrRunInProgress is returned.
func (s *StatusService) Begin(ctx context.Context, operationID int64) (*models.OperationStatus, error) {
	status, err := s.repo.StartStatus(ctx, operationID, models.PhaseStarting, s.now())
	if errors.Is(err, store.ErrOperationRunning) {
		return nil, fmt.Errorf("%w: operation %d", ErrRunInProgress, operationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to begin operation status: %w", err)
	}
	return status, nil
}

// Progress records the step counters of a running operation
func (s *StatusService) Progress(ctx context.Context, operationID int64, current, total int, phase string) error {
	if err := s.repo.UpdateProgress(ctx, operationID, current, total, phase); err != nil {
		return fmt.Errorf("failed to update progress of operation %d: %w", operationID, err)
	}
	return nil
}

// Finish finalizes an operation, recording runErr as its error text when not nil
func (s *StatusService) Finish(ctx context.Context, operationID int64, runErr error) error {
	phase := models.PhaseCompleted
	var errorText *string
	if runErr != nil {
		phase = models.PhaseFailed
		text := runErr.Error()
		errorText = &text
	}

	if err := s.repo.FinishStatus(ctx, operationID, s.now(), phase, errorText); err != nil {
		return fmt.Errorf("failed to finish operation %d: %w", operationID, err)
	}
	return nil
}

// GetStatus returns the status record of an operation or an error wrapping store.ErrNotFound
func (s *StatusService) GetStatus(ctx context.Context, operationID int64) (*models.OperationStatus, error) {
	ctx, span := util.StartSpan(ctx, "StatusService.GetStatus")
	defer span.End()

	status, err := s.repo.GetStatusByOperationID(ctx, operationID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			util.SpanError(span, err)
		}
		return nil, err
	}
	return status, nil
}

// GetOperationStatus returns the status of an operation as indented JSON, or an
// empty string when the operation is unknown or cannot be read. It never fails.
func (s *StatusService) GetOperationStatus(ctx context.Context, operationID int64) string {
	status, err := s.GetStatus(ctx, operationID)
	if errors.Is(err, store.ErrNotFound) {
		util.StatusLookupsTotal.WithLabelValues("not_found").Inc()
		s.logger.Info("Operation status not found", zap.Int64("operation_id", operationID))
		return ""
	}
	if err != nil {
		util.StatusLookupsTotal.WithLabelValues("error").Inc()
		s.logger.Error("Failed to read operation status",
			zap.Int64("operation_id", operationID),
			zap.Error(err))
		return ""
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		util.StatusLookupsTotal.WithLabelValues("error").Inc()
		s.logger.Error("Failed to serialize operation status",
			zap.Int64("operation_id", operationID),
			zap.Error(err))
		return ""
	}

	util.StatusLookupsTotal.WithLabelValues("found").Inc()
	return string(data)
}
