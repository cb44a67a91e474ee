package models

import "time"

// Event types
const (
	EventTypeSyncRequested       = "SYNC_REQUESTED"
	EventTypeImagesSyncRequested = "IMAGES_SYNC_REQUESTED"
	EventTypeSyncStarted         = "SYNC_STARTED"
	EventTypeSyncCompleted       = "SYNC_COMPLETED"
	EventTypeSyncFailed          = "SYNC_FAILED"
	EventTypeImagesSynced        = "IMAGES_SYNCED"
	EventTypeImagesSyncFailed    = "IMAGES_SYNC_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncRequestedEvent asks a worker to run a price synchronization
type SyncRequestedEvent struct {
	BaseEvent
	OperationID int64  `json:"operation_id"`
	FeedPath    string `json:"feed_path"`
	SourceID    int64  `json:"source_id,omitempty"`
	ShopID      int64  `json:"shop_id,omitempty"`
	ShopName    string `json:"shop_name,omitempty"`
}

// ImagesSyncRequestedEvent asks a worker to synchronize an image bundle
type ImagesSyncRequestedEvent struct {
	BaseEvent
	FileName string `json:"file_name"`
}

// SyncStartedEvent published when a price synchronization begins
type SyncStartedEvent struct {
	BaseEvent
	OperationID int64     `json:"operation_id"`
	SourceID    int64     `json:"source_id"`
	ShopID      int64     `json:"shop_id"`
	Cutover     time.Time `json:"cutover"`
}

// SyncCompletedEvent published when ingestion and reconciliation succeeded
type SyncCompletedEvent struct {
	BaseEvent
	OperationID   int64 `json:"operation_id"`
	SourceID      int64 `json:"source_id"`
	ShopID        int64 `json:"shop_id"`
	RowsProcessed int   `json:"rows_processed"`
	RowsFailed    int   `json:"rows_failed"`
	Created       int   `json:"created"`
	Updated       int   `json:"updated"`
	Swept         int   `json:"swept"`
}

// SyncFailedEvent published when a run aborted
type SyncFailedEvent struct {
	BaseEvent
	OperationID int64  `json:"operation_id"`
	SourceID    int64  `json:"source_id"`
	ShopID      int64  `json:"shop_id"`
	Reason      string `json:"reason"`
}

// ImagesSyncedEvent published after an image bundle was applied
type ImagesSyncedEvent struct {
	BaseEvent
	Archive    string `json:"archive"`
	FilesMoved int    `json:"files_moved"`
}

// ImagesSyncFailedEvent published when an image bundle could not be applied
type ImagesSyncFailedEvent struct {
	BaseEvent
	Archive string `json:"archive"`
	Reason  string `json:"reason"`
}
