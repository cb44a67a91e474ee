package worker

import (
	"context"
	"time"

	"catalog-sync/internal/broker"
	"catalog-sync/internal/models"
	"catalog-sync/internal/service"
	"catalog-sync/internal/util"

	"go.uber.org/zap"
)

const idempotencyTTL = 24 * time.Hour

// Runner executes synchronization runs
type Runner interface {
	RunPriceSync(ctx context.Context, req service.PriceSyncRequest) (*service.PriceSyncResult, error)
	SyncImageBundle(ctx context.Context, fileName string) (*service.ImageSyncResult, error)
}

// IdempotencyStore remembers which commands were already taken
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ForgetIdempotencyKey(ctx context.Context, key string) error
}

// SyncWorker runs synchronization commands consumed from Kafka, one at a time
type SyncWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	runner       Runner
	idempotency  IdempotencyStore
	logger       *zap.Logger
}

// NewSyncWorker creates a new sync worker. idempotency may be nil.
func NewSyncWorker(consumer *broker.Consumer, runner Runner, idempotency IdempotencyStore) *SyncWorker {
	w := &SyncWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		runner:       runner,
		idempotency:  idempotency,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnSyncRequested(w.HandleSyncRequested)
	w.eventHandler.OnImagesSyncRequested(w.HandleImagesSyncRequested)
	return w
}

// Start starts the worker
func (w *SyncWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting sync worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *SyncWorker) Stop() error {
	w.logger.Info("Stopping sync worker")
	return w.consumer.Close()
}

// HandleSyncRequested runs a price synchronization command
func (w *SyncWorker) HandleSyncRequested(ctx context.Context, event *models.SyncRequestedEvent) error {
	if !w.claim(ctx, event.EventID) {
		return nil
	}

	w.logger.Info("Processing price sync",
		zap.Int64("operation_id", event.OperationID),
		zap.String("feed_path", event.FeedPath))

	_, err := w.runner.RunPriceSync(ctx, service.PriceSyncRequest{
		OperationID: event.OperationID,
		FeedPath:    event.FeedPath,
		SourceID:    event.SourceID,
		ShopID:      event.ShopID,
		ShopName:    event.ShopName,
	})
	if err != nil {
		w.release(ctx, event.EventID)
		return err
	}
	return nil
}

// HandleImagesSyncRequested runs an image bundle command
func (w *SyncWorker) HandleImagesSyncRequested(ctx context.Context, event *models.ImagesSyncRequestedEvent) error {
	if !w.claim(ctx, event.EventID) {
		return nil
	}

	w.logger.Info("Processing image bundle", zap.String("file_name", event.FileName))

	if _, err := w.runner.SyncImageBundle(ctx, event.FileName); err != nil {
		w.release(ctx, event.EventID)
		return err
	}
	return nil
}

// claim reports whether the command should run. Commands without an id, and
// every command when the idempotency store is unavailable, are run.
func (w *SyncWorker) claim(ctx context.Context, eventID string) bool {
	if w.idempotency == nil || eventID == "" {
		return true
	}

	first, err := w.idempotency.ClaimIdempotencyKey(ctx, "command:"+eventID, idempotencyTTL)
	if err != nil {
		w.logger.Warn("Failed to check command idempotency", zap.String("event_id", eventID), zap.Error(err))
		return true
	}
	if !first {
		w.logger.Info("Duplicate command skipped", zap.String("event_id", eventID))
	}
	return first
}

// release lets a failed command be retried
func (w *SyncWorker) release(ctx context.Context, eventID string) {
	if w.idempotency == nil || eventID == "" {
		return
	}
	if err := w.idempotency.ForgetIdempotencyKey(context.WithoutCancel(ctx), "command:"+eventID); err != nil {
		w.logger.Warn("Failed to release command key", zap.String("event_id", eventID), zap.Error(err))
	}
}
