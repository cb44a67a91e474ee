package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SyncEvents receives the notable moments of a synchronization run
type SyncEvents interface {
	RowSkipped(operationID int64, line int, err error)
	RunAborted(operationID int64, err error)
	SweepCompleted(sourceID, shopID int64, cutover time.Time, swept int)
	RunCompleted(operationID int64, result *PriceSyncResult)
	ImagesSynced(result *ImageSyncResult)
	ImagesFailed(archive string, err error)
}

// LogEvents writes sync events as structured log entries
type LogEvents struct {
	logger *zap.Logger
}

// NewLogEvents creates a SyncEvents backed by logger
func NewLogEvents(logger *zap.Logger) *LogEvents {
	return &LogEvents{logger: logger}
}

func (e *LogEvents) RowSkipped(operationID int64, line int, err error) {
	e.logger.Warn("row skipped",
		zap.Int64("operation_id", operationID),
		zap.Int("line", line),
		zap.Error(err))
}

func (e *LogEvents) RunAborted(operationID int64, err error) {
	e.logger.Error("run aborted",
		zap.Int64("operation_id", operationID),
		zap.Error(err))
}

func (e *LogEvents) SweepCompleted(sourceID, shopID int64, cutover time.Time, swept int) {
	e.logger.Info("sweep completed",
		zap.Int64("source_id", sourceID),
		zap.Int64("shop_id", shopID),
		zap.Time("cutover", cutover),
		zap.Int("swept", swept))
}

func (e *LogEvents) RunCompleted(operationID int64, result *PriceSyncResult) {
	e.logger.Info("run completed",
		zap.Int64("operation_id", operationID),
		zap.Int("rows_processed", result.RowsProcessed),
		zap.Int("rows_failed", result.RowsFailed),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("swept", result.Swept),
		zap.Duration("duration", result.Duration))
}

func (e *LogEvents) ImagesSynced(result *ImageSyncResult) {
	e.logger.Info("images synced",
		zap.String("archive", result.Archive),
		zap.Int("extracted", result.Extracted),
		zap.Int("moved", len(result.Moved)),
		zap.Int("thumbnails", result.Thumbnails))
}

// ImagesFailed logs the error with its stack trace when one was recorded
func (e *LogEvents) ImagesFailed(archive string, err error) {
	e.logger.Error("image sync failed",
		zap.String("archive", archive),
		zap.Error(err),
		zap.String("detail", fmt.Sprintf("%+v", err)))
}
