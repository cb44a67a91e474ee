package service

import (
	"context"
	"errors"
	"time"

	"catalog-sync/internal/models"
)

var (
	// ErrRunInProgress is returned when another run holds the scope lock
	ErrRunInProgress = errors.New("synchronization already running for this scope")
	// ErrUnknownShop is returned when the requested shop does not exist
	ErrUnknownShop = errors.New("unknown shop")
	// ErrUnknownSource is returned when the requested info source does not exist or is deleted
	ErrUnknownSource = errors.New("unknown info source")
	// ErrUnknownRule is returned when the configured synchronization rule does not exist
	ErrUnknownRule = errors.New("unknown synchronization rule")
)

// CatalogRepository persists catalog entries
type CatalogRepository interface {
	GetEntriesBySKUs(ctx context.Context, sourceID, shopID int64, skus []string) ([]models.CatalogEntry, error)
	SaveBatch(ctx context.Context, inserts, updates []*models.CatalogEntry) error
	MarkStaleDeleted(ctx context.Context, cutover time.Time, sourceID, shopID int64, now time.Time, changer string) (int, error)
}

// StatusRepository persists operation status records
type StatusRepository interface {
	StartStatus(ctx context.Context, operationID int64, phase string, begin time.Time) (*models.OperationStatus, error)
	UpdateProgress(ctx context.Context, operationID int64, current, total int, phase string) error
	FinishStatus(ctx context.Context, operationID int64, end time.Time, phase string, errorText *string) error
	GetStatusByOperationID(ctx context.Context, operationID int64) (*models.OperationStatus, error)
}

// LookupRepository resolves info sources, shops and synchronization rules
type LookupRepository interface {
	GetInfoSourceByName(ctx context.Context, name string) (*models.InfoSource, error)
	GetInfoSourceByID(ctx context.Context, id int64) (*models.InfoSource, error)
	GetShopByID(ctx context.Context, id int64) (*models.Shop, error)
	GetShopByName(ctx context.Context, name string) (*models.Shop, error)
	GetSynchronizationRuleByID(ctx context.Context, id int64) (*models.SynchronizationRule, error)
}

// EventPublisher publishes run lifecycle events
type EventPublisher interface {
	PublishSyncStarted(ctx context.Context, event *models.SyncStartedEvent) error
	PublishSyncCompleted(ctx context.Context, event *models.SyncCompletedEvent) error
	PublishSyncFailed(ctx context.Context, event *models.SyncFailedEvent) error
	PublishImagesSynced(ctx context.Context, event *models.ImagesSyncedEvent) error
	PublishImagesSyncFailed(ctx context.Context, event *models.ImagesSyncFailedEvent) error
}

// Locker guards a scope against concurrent runs
type Locker interface {
	// AcquireLock returns a release token and false if the lock is already held
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}
