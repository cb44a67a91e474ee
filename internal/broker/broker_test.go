package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"catalog-sync/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestPublisherKeysByScope(t *testing.T) {
	w := &recordingWriter{}
	pub := NewEventPublisher(NewProducerWithWriter(w))
	ctx := context.Background()

	require.NoError(t, pub.PublishSyncCompleted(ctx, &models.SyncCompletedEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypeSyncCompleted, Timestamp: time.Now()},
		SourceID:  1,
		ShopID:    7,
		Swept:     3,
	}))
	require.NoError(t, pub.PublishImagesSynced(ctx, &models.ImagesSyncedEvent{
		BaseEvent:  models.BaseEvent{EventID: "e2", EventType: models.EventTypeImagesSynced},
		FilesMoved: 2,
	}))

	require.Len(t, w.messages, 2)
	assert.Equal(t, "scope-1-7", string(w.messages[0].Key))
	assert.Equal(t, "images", string(w.messages[1].Key))

	var decoded models.SyncCompletedEvent
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &decoded))
	assert.Equal(t, 3, decoded.Swept)
	assert.Equal(t, models.EventTypeSyncCompleted, decoded.EventType)
}

func TestPublisherWrapsWriteErrors(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}
	pub := NewEventPublisher(NewProducerWithWriter(w))

	err := pub.PublishSyncFailed(context.Background(), &models.SyncFailedEvent{Reason: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, w.err)
}

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: data}
}

func TestHandleMessageRoutesCommands(t *testing.T) {
	h := NewEventHandler()

	var gotSync *models.SyncRequestedEvent
	var gotImages *models.ImagesSyncRequestedEvent
	h.OnSyncRequested(func(_ context.Context, e *models.SyncRequestedEvent) error {
		gotSync = e
		return nil
	})
	h.OnImagesSyncRequested(func(_ context.Context, e *models.ImagesSyncRequestedEvent) error {
		gotImages = e
		return nil
	})

	ctx := context.Background()
	require.NoError(t, h.HandleMessage(ctx, message(t, &models.SyncRequestedEvent{
		BaseEvent:   models.BaseEvent{EventID: "c1", EventType: models.EventTypeSyncRequested},
		OperationID: 12,
		FeedPath:    "/data/price.csv",
		ShopID:      2,
	})))
	require.NoError(t, h.HandleMessage(ctx, message(t, &models.ImagesSyncRequestedEvent{
		BaseEvent: models.BaseEvent{EventID: "c2", EventType: models.EventTypeImagesSyncRequested},
		FileName:  "images.zip",
	})))

	require.NotNil(t, gotSync)
	assert.Equal(t, int64(12), gotSync.OperationID)
	assert.Equal(t, "/data/price.csv", gotSync.FeedPath)
	require.NotNil(t, gotImages)
	assert.Equal(t, "images.zip", gotImages.FileName)
}

func TestHandleMessageIgnoresLifecycleEvents(t *testing.T) {
	h := NewEventHandler()
	h.OnSyncRequested(func(context.Context, *models.SyncRequestedEvent) error {
		t.Fatal("lifecycle event routed as a command")
		return nil
	})

	err := h.HandleMessage(context.Background(), message(t, &models.SyncCompletedEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeSyncCompleted},
	}))
	assert.NoError(t, err)

	assert.Error(t, h.HandleMessage(context.Background(), kafka.Message{Value: []byte("{not json")}))
}
