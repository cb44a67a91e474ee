package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"catalog-sync/internal/models"
	"catalog-sync/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes run commands and lifecycle events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// scopeKey keeps every message of one (source, shop) scope on one partition
func scopeKey(sourceID, shopID int64) string {
	return fmt.Sprintf("scope-%d-%d", sourceID, shopID)
}

const imagesKey = "images"

// PublishSyncRequested publishes a SyncRequested command
func (ep *EventPublisher) PublishSyncRequested(ctx context.Context, event *models.SyncRequestedEvent) error {
	return ep.producer.PublishEvent(ctx, scopeKey(event.SourceID, event.ShopID), event)
}

// PublishImagesSyncRequested publishes an ImagesSyncRequested command
func (ep *EventPublisher) PublishImagesSyncRequested(ctx context.Context, event *models.ImagesSyncRequestedEvent) error {
	return ep.producer.PublishEvent(ctx, imagesKey, event)
}

// PublishSyncStarted publishes SyncStarted event
func (ep *EventPublisher) PublishSyncStarted(ctx context.Context, event *models.SyncStartedEvent) error {
	return ep.producer.PublishEvent(ctx, scopeKey(event.SourceID, event.ShopID), event)
}

// PublishSyncCompleted publishes SyncCompleted event
func (ep *EventPublisher) PublishSyncCompleted(ctx context.Context, event *models.SyncCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, scopeKey(event.SourceID, event.ShopID), event)
}

// PublishSyncFailed publishes SyncFailed event
func (ep *EventPublisher) PublishSyncFailed(ctx context.Context, event *models.SyncFailedEvent) error {
	return ep.producer.PublishEvent(ctx, scopeKey(event.SourceID, event.ShopID), event)
}

// PublishImagesSynced publishes ImagesSynced event
func (ep *EventPublisher) PublishImagesSynced(ctx context.Context, event *models.ImagesSyncedEvent) error {
	return ep.producer.PublishEvent(ctx, imagesKey, event)
}

// PublishImagesSyncFailed publishes ImagesSyncFailed event
func (ep *EventPublisher) PublishImagesSyncFailed(ctx context.Context, event *models.ImagesSyncFailedEvent) error {
	return ep.producer.PublishEvent(ctx, imagesKey, event)
}

// EventHandler routes incoming commands to registered handlers
type EventHandler struct {
	onSyncRequested       func(context.Context, *models.SyncRequestedEvent) error
	onImagesSyncRequested func(context.Context, *models.ImagesSyncRequestedEvent) error
	logger                *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnSyncRequested registers a handler for SyncRequested commands
func (eh *EventHandler) OnSyncRequested(handler func(context.Context, *models.SyncRequestedEvent) error) {
	eh.onSyncRequested = handler
}

// OnImagesSyncRequested registers a handler for ImagesSyncRequested commands
func (eh *EventHandler) OnImagesSyncRequested(handler func(context.Context, *models.ImagesSyncRequestedEvent) error) {
	eh.onImagesSyncRequested = handler
}

// HandleMessage routes messages to appropriate handlers. Lifecycle events
// share the topic with commands and are ignored here.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeSyncRequested:
		if eh.onSyncRequested != nil {
			var event models.SyncRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SyncRequested event: %w", err)
			}
			return eh.onSyncRequested(ctx, &event)
		}

	case models.EventTypeImagesSyncRequested:
		if eh.onImagesSyncRequested != nil {
			var event models.ImagesSyncRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ImagesSyncRequested event: %w", err)
			}
			return eh.onImagesSyncRequested(ctx, &event)
		}

	default:
		eh.logger.Debug("Ignoring event", zap.String("type", baseEvent.EventType))
	}

	return nil
}
