package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"catalog-sync/internal/feed"
	"catalog-sync/internal/models"
	"catalog-sync/internal/store"
	"catalog-sync/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Options configures the synchronization facade
type Options struct {
	BatchSize   int
	FeedTimeout time.Duration
	LockTTL     time.Duration
	// Actor is written as creator/changer of the entries a run touches
	Actor string
	// PriceSourceName resolves the info source of requests that carry no source id
	PriceSourceName       string
	ProductTypeID         int64
	SynchronizationRuleID int64
	Feed                  feed.Options

	ImageStoragePath string
	ImagePublicRoot  string
	ThumbnailWidth   int
}

// PriceSyncRequest asks for a feed to be applied to a shop's catalog
type PriceSyncRequest struct {
	// OperationID reuses a status record allocated earlier; zero allocates a new one
	OperationID int64  `json:"operation_id,omitempty"`
	FeedPath    string `json:"feed_path" binding:"required"`
	SourceID    int64  `json:"source_id,omitempty"`
	ShopID      int64  `json:"shop_id,omitempty"`
	ShopName    string `json:"shop_name,omitempty"`
}

// PriceSyncResult describes a finished price synchronization
type PriceSyncResult struct {
	OperationID int64     `json:"operation_id"`
	SourceID    int64     `json:"source_id"`
	ShopID      int64     `json:"shop_id"`
	Cutover     time.Time `json:"cutover"`
	Result
	Swept    int           `json:"swept"`
	Duration time.Duration `json:"duration"`
}

// SyncService runs price and image synchronizations
type SyncService struct {
	lookups    LookupRepository
	status     *StatusService
	ingestor   *Ingestor
	reconciler *Reconciler
	images     *ImageSynchronizer
	publisher  EventPublisher
	locker     Locker
	events     SyncEvents
	opts       Options
	logger     *zap.Logger
	now        func() time.Time
}

// NewSyncService creates a new sync service. publisher and locker may be nil.
func NewSyncService(
	catalog CatalogRepository,
	statuses StatusRepository,
	lookups LookupRepository,
	publisher EventPublisher,
	locker Locker,
	opts Options,
) *SyncService {
	logger := util.GetLogger()
	events := NewLogEvents(logger)
	status := NewStatusService(statuses)

	if opts.Actor == "" {
		opts.Actor = util.ServiceName
	}

	return &SyncService{
		lookups:    lookups,
		status:     status,
		ingestor:   NewIngestor(catalog, status, events, opts.BatchSize, opts.Actor),
		reconciler: NewReconciler(catalog, events, opts.Actor),
		images:     NewImageSynchronizer(opts.ThumbnailWidth),
		publisher:  publisher,
		locker:     locker,
		events:     events,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Status exposes the status reader of the service
func (s *SyncService) Status() *StatusService {
	return s.status
}

// AllocateOperation creates a status record for a run that will start later
func (s *SyncService) AllocateOperation(ctx context.Context) (int64, error) {
	status, err := s.status.Allocate(ctx)
	if err != nil {
		return 0, err
	}
	return status.OperationID, nil
}

// GetOperationStatus returns the status of an operation as indented JSON, or "" when unavailable
func (s *SyncService) GetOperationStatus(ctx context.Context, operationID int64) string {
	return s.status.GetOperationStatus(ctx, operationID)
}

// RunPriceSync applies a feed to a (source, shop) catalog scope: the feed is
// ingested, then entries the feed did not mention are swept. A failed ingestion
// is never followed by a sweep. The operation status is finalized in every case
// once it has been started.
func (s *SyncService) RunPriceSync(ctx context.Context, req PriceSyncRequest) (*PriceSyncResult, error) {
	ctx, span := util.StartSpan(ctx, "SyncService.RunPriceSync")
	defer span.End()

	start := time.Now()

	// the record is not ours when Begin fails, so it is never finalized here
	status, err := s.status.Begin(ctx, req.OperationID)
	if errors.Is(err, ErrRunInProgress) {
		util.SyncRunsTotal.WithLabelValues("rejected").Inc()
		util.SpanError(span, err)
		return nil, err
	}
	if err != nil {
		util.SyncRunsTotal.WithLabelValues("failed").Inc()
		util.SpanError(span, err)
		return nil, err
	}

	result := &PriceSyncResult{OperationID: status.OperationID}
	span.SetAttributes(attribute.Int64("operation_id", result.OperationID))

	err = s.runPriceSync(ctx, req, result)
	result.Duration = time.Since(start)
	util.SyncRunDuration.Observe(result.Duration.Seconds())

	// the run context may be cancelled already; finalization must still be written
	finishCtx := context.WithoutCancel(ctx)

	if err != nil {
		util.SpanError(span, err)
		s.fail(finishCtx, result, err)
		return result, err
	}

	if err := s.status.Finish(finishCtx, result.OperationID, nil); err != nil {
		util.SyncRunsTotal.WithLabelValues("failed").Inc()
		util.SpanError(span, err)
		s.events.RunAborted(result.OperationID, err)
		return result, err
	}

	util.SyncRunsTotal.WithLabelValues("completed").Inc()
	s.events.RunCompleted(result.OperationID, result)
	s.publishCompleted(finishCtx, result)
	return result, nil
}

func (s *SyncService) runPriceSync(ctx context.Context, req PriceSyncRequest, result *PriceSyncResult) error {
	sourceID, shopID, err := s.resolveScope(ctx, req)
	if err != nil {
		return err
	}
	result.SourceID = sourceID
	result.ShopID = shopID

	if s.locker != nil {
		key := fmt.Sprintf("%s:%d:%d", util.ServiceName, sourceID, shopID)
		token, ok, err := s.locker.AcquireLock(ctx, key, s.lockTTL())
		if err != nil {
			return fmt.Errorf("failed to acquire scope lock: %w", err)
		}
		if !ok {
			return ErrRunInProgress
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
				s.logger.Warn("Failed to release scope lock", zap.String("key", key), zap.Error(err))
			}
		}()
	}

	// captured before the first row is read; every write of this run is stamped at or after it
	result.Cutover = s.now()
	s.publishStarted(ctx, result)

	src, err := feed.Open(req.FeedPath, s.opts.Feed)
	if err != nil {
		return err
	}
	defer src.Close()

	ingestCtx := ctx
	if s.opts.FeedTimeout > 0 {
		var cancel context.CancelFunc
		ingestCtx, cancel = context.WithTimeout(ctx, s.opts.FeedTimeout)
		defer cancel()
	}

	scope := Scope{
		OperationID:           result.OperationID,
		SourceID:              sourceID,
		ShopID:                shopID,
		ProductTypeID:         s.opts.ProductTypeID,
		SynchronizationRuleID: s.opts.SynchronizationRuleID,
		Cutover:               result.Cutover,
	}

	result.Result, err = s.ingestor.Ingest(ingestCtx, src, scope)
	if err != nil {
		return err
	}

	// the feed has been read to the end, so every row is accounted for
	if err := s.status.Progress(ctx, result.OperationID, result.RowsProcessed, result.RowsProcessed, models.PhaseSweeping); err != nil {
		return err
	}

	result.Swept, err = s.reconciler.ReconcileStale(ctx, result.Cutover, sourceID, shopID)
	return err
}

func (s *SyncService) resolveScope(ctx context.Context, req PriceSyncRequest) (int64, int64, error) {
	var source *models.InfoSource
	var err error
	if req.SourceID != 0 {
		source, err = s.lookups.GetInfoSourceByID(ctx, req.SourceID)
	} else {
		source, err = s.lookups.GetInfoSourceByName(ctx, s.opts.PriceSourceName)
	}
	if errors.Is(err, store.ErrNotFound) {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnknownSource, err)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to resolve info source: %w", err)
	}
	if source.Deleted != models.StateActive {
		return 0, 0, fmt.Errorf("%w: %q is deleted", ErrUnknownSource, source.Name)
	}

	var shop *models.Shop
	switch {
	case req.ShopID != 0:
		shop, err = s.lookups.GetShopByID(ctx, req.ShopID)
	case req.ShopName != "":
		shop, err = s.lookups.GetShopByName(ctx, req.ShopName)
	default:
		return 0, 0, fmt.Errorf("%w: no shop given", ErrUnknownShop)
	}
	if errors.Is(err, store.ErrNotFound) {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnknownShop, err)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to resolve shop: %w", err)
	}

	if s.opts.SynchronizationRuleID != 0 {
		_, err := s.lookups.GetSynchronizationRuleByID(ctx, s.opts.SynchronizationRuleID)
		if errors.Is(err, store.ErrNotFound) {
			return 0, 0, fmt.Errorf("%w: %v", ErrUnknownRule, err)
		}
		if err != nil {
			return 0, 0, fmt.Errorf("failed to resolve synchronization rule: %w", err)
		}
	}

	return source.ID, shop.ID, nil
}

func (s *SyncService) fail(ctx context.Context, result *PriceSyncResult, runErr error) {
	if errors.Is(runErr, ErrRunInProgress) {
		util.SyncRunsTotal.WithLabelValues("rejected").Inc()
	} else {
		util.SyncRunsTotal.WithLabelValues("failed").Inc()
	}
	s.events.RunAborted(result.OperationID, runErr)

	if err := s.status.Finish(ctx, result.OperationID, runErr); err != nil {
		s.logger.Error("Failed to record run failure",
			zap.Int64("operation_id", result.OperationID),
			zap.Error(err))
	}

	if s.publisher == nil {
		return
	}
	event := &models.SyncFailedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeSyncFailed),
		OperationID: result.OperationID,
		SourceID:    result.SourceID,
		ShopID:      result.ShopID,
		Reason:      runErr.Error(),
	}
	if err := s.publisher.PublishSyncFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish SyncFailed event", zap.Error(err))
	}
}

func (s *SyncService) publishStarted(ctx context.Context, result *PriceSyncResult) {
	if s.publisher == nil {
		return
	}
	event := &models.SyncStartedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeSyncStarted),
		OperationID: result.OperationID,
		SourceID:    result.SourceID,
		ShopID:      result.ShopID,
		Cutover:     result.Cutover,
	}
	if err := s.publisher.PublishSyncStarted(ctx, event); err != nil {
		s.logger.Error("Failed to publish SyncStarted event", zap.Error(err))
	}
}

func (s *SyncService) publishCompleted(ctx context.Context, result *PriceSyncResult) {
	if s.publisher == nil {
		return
	}
	event := &models.SyncCompletedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeSyncCompleted),
		OperationID:   result.OperationID,
		SourceID:      result.SourceID,
		ShopID:        result.ShopID,
		RowsProcessed: result.RowsProcessed,
		RowsFailed:    result.RowsFailed,
		Created:       result.Created,
		Updated:       result.Updated,
		Swept:         result.Swept,
	}
	if err := s.publisher.PublishSyncCompleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish SyncCompleted event", zap.Error(err))
	}
}

// SyncImages applies an image bundle to the public image root
func (s *SyncService) SyncImages(ctx context.Context, archivePath, workingDir, publicRoot string) (*ImageSyncResult, error) {
	start := time.Now()
	defer func() {
		util.ImageSyncDuration.Observe(time.Since(start).Seconds())
	}()

	if s.locker != nil {
		key := util.ServiceName + ":images"
		token, ok, err := s.locker.AcquireLock(ctx, key, s.lockTTL())
		if err != nil {
			return nil, fmt.Errorf("failed to acquire image lock: %w", err)
		}
		if !ok {
			util.ImageSyncTotal.WithLabelValues("rejected").Inc()
			return nil, ErrRunInProgress
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
				s.logger.Warn("Failed to release image lock", zap.String("key", key), zap.Error(err))
			}
		}()
	}

	result, err := s.images.SyncImages(ctx, archivePath, workingDir, publicRoot)
	if err != nil {
		util.ImageSyncTotal.WithLabelValues("failed").Inc()
		s.events.ImagesFailed(archivePath, err)
		s.publishImagesFailed(context.WithoutCancel(ctx), archivePath, err)
		return result, err
	}

	util.ImageSyncTotal.WithLabelValues("completed").Inc()
	s.events.ImagesSynced(result)
	s.publishImagesSynced(ctx, result)
	return result, nil
}

// SyncImageBundle applies the bundle fileName found in the image storage
// directory, unpacking it next to the archive in a directory named after it
func (s *SyncService) SyncImageBundle(ctx context.Context, fileName string) (*ImageSyncResult, error) {
	if fileName == "" || filepath.Base(fileName) != fileName {
		return nil, fmt.Errorf("invalid image bundle name %q", fileName)
	}

	archivePath := filepath.Join(s.opts.ImageStoragePath, fileName)
	workingDir := filepath.Join(s.opts.ImageStoragePath, bundleName(fileName))
	return s.SyncImages(ctx, archivePath, workingDir, s.opts.ImagePublicRoot)
}

// bundleName strips the archive extension, including a volume suffix such as ".zip.001"
func bundleName(fileName string) string {
	name := fileName
	if ext := filepath.Ext(name); len(ext) == 4 && strings.Trim(ext[1:], "0123456789") == "" {
		name = strings.TrimSuffix(name, ext)
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func (s *SyncService) publishImagesSynced(ctx context.Context, result *ImageSyncResult) {
	if s.publisher == nil {
		return
	}
	event := &models.ImagesSyncedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeImagesSynced),
		Archive:    filepath.Base(result.Archive),
		FilesMoved: len(result.Moved),
	}
	if err := s.publisher.PublishImagesSynced(ctx, event); err != nil {
		s.logger.Error("Failed to publish ImagesSynced event", zap.Error(err))
	}
}

func (s *SyncService) publishImagesFailed(ctx context.Context, archivePath string, runErr error) {
	if s.publisher == nil {
		return
	}
	event := &models.ImagesSyncFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypeImagesSyncFailed),
		Archive:   filepath.Base(archivePath),
		Reason:    runErr.Error(),
	}
	if err := s.publisher.PublishImagesSyncFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish ImagesSyncFailed event", zap.Error(err))
	}
}

func (s *SyncService) lockTTL() time.Duration {
	if s.opts.LockTTL > 0 {
		return s.opts.LockTTL
	}
	return time.Hour
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
