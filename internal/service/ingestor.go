package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"catalog-sync/internal/feed"
	"catalog-sync/internal/models"
	"catalog-sync/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of feed rows saved and reported per step
const DefaultBatchSize = 100

// Scope identifies the catalog slice a feed is applied to
type Scope struct {
	OperationID           int64
	SourceID              int64
	ShopID                int64
	ProductTypeID         int64
	SynchronizationRuleID int64
	// Cutover is captured before ingestion starts; every write of the run is stamped at or after it
	Cutover time.Time
}

// Result summarizes an ingestion pass
type Result struct {
	RowsProcessed int `json:"rows_processed"`
	RowsFailed    int `json:"rows_failed"`
	Created       int `json:"created"`
	Updated       int `json:"updated"`
	// Retained counts stored entries whose feed row was unusable; they are
	// stamped as seen with their values unchanged
	Retained int `json:"retained"`
}

// ProgressReporter receives step counters while a feed is ingested
type ProgressReporter interface {
	Progress(ctx context.Context, operationID int64, current, total int, phase string) error
}

// Ingestor upserts feed rows into the catalog
type Ingestor struct {
	catalog   CatalogRepository
	progress  ProgressReporter
	events    SyncEvents
	batchSize int
	actor     string
	logger    *zap.Logger
	now       func() time.Time
}

// NewIngestor creates a new ingestor. A batchSize below one falls back to DefaultBatchSize.
func NewIngestor(catalog CatalogRepository, progress ProgressReporter, events SyncEvents, batchSize int, actor string) *Ingestor {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Ingestor{
		catalog:   catalog,
		progress:  progress,
		events:    events,
		batchSize: batchSize,
		actor:     actor,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// Ingest streams src into the catalog scope. Every batchSize consumed rows the
// batch is saved in one transaction and progress is flushed; a last flush is
// made when the feed ends. Rows that cannot be mapped are skipped and counted.
// Any other error aborts ingestion and is returned together with the partial result.
func (i *Ingestor) Ingest(ctx context.Context, src feed.Reader, scope Scope) (Result, error) {
	ctx, span := util.StartSpan(ctx, "Ingestor.Ingest")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("operation_id", scope.OperationID),
		attribute.Int64("source_id", scope.SourceID),
		attribute.Int64("shop_id", scope.ShopID),
	)

	var res Result
	batch := newRowBatch(i.batchSize)
	consumed := 0

	for {
		if err := ctx.Err(); err != nil {
			util.SpanError(span, err)
			return res, fmt.Errorf("feed ingestion interrupted: %w", err)
		}

		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		var rowErr *feed.RowError
		switch {
		case errors.As(err, &rowErr):
			res.RowsFailed++
			util.FeedRowsTotal.WithLabelValues("failed").Inc()
			i.events.RowSkipped(scope.OperationID, rowErr.Line, rowErr.Err)
			if rowErr.SKU != "" {
				batch.seen(rowErr.SKU)
			}
		case err != nil:
			util.SpanError(span, err)
			return res, fmt.Errorf("failed to read feed: %w", err)
		default:
			batch.add(row)
		}

		consumed++
		if consumed%i.batchSize == 0 {
			if err := i.flush(ctx, batch, scope, &res, consumed, src.Total()); err != nil {
				util.SpanError(span, err)
				return res, err
			}
		}
	}

	// the whole feed has been read, so its length is now known
	if err := i.flush(ctx, batch, scope, &res, consumed, consumed); err != nil {
		util.SpanError(span, err)
		return res, err
	}

	span.SetAttributes(
		attribute.Int("rows_processed", res.RowsProcessed),
		attribute.Int("rows_failed", res.RowsFailed),
	)
	i.logger.Info("Feed ingested",
		zap.Int64("operation_id", scope.OperationID),
		zap.Int("rows_processed", res.RowsProcessed),
		zap.Int("rows_failed", res.RowsFailed),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated))

	return res, nil
}

// flush saves the buffered rows and reports consumed rows as progress
func (i *Ingestor) flush(ctx context.Context, batch *rowBatch, scope Scope, res *Result, consumed, total int) error {
	if err := i.saveBatch(ctx, batch, scope, res); err != nil {
		return err
	}
	res.RowsProcessed = consumed

	// a feed may be longer than counted upfront
	if total > 0 && total < consumed {
		total = consumed
	}
	return i.progress.Progress(ctx, scope.OperationID, consumed, total, models.PhaseProcessing)
}

func (i *Ingestor) saveBatch(ctx context.Context, batch *rowBatch, scope Scope, res *Result) error {
	if batch.empty() {
		return nil
	}
	defer batch.reset()

	existing, err := i.catalog.GetEntriesBySKUs(ctx, scope.SourceID, scope.ShopID, batch.skus)
	if err != nil {
		return fmt.Errorf("failed to load catalog entries: %w", err)
	}
	bySKU := make(map[string]*models.CatalogEntry, len(existing))
	for idx := range existing {
		bySKU[existing[idx].SKU] = &existing[idx]
	}

	// never stamp before the cutover, or the sweep would remove what this run just wrote
	stamp := i.now()
	if stamp.Before(scope.Cutover) {
		stamp = scope.Cutover
	}

	var inserts, updates []*models.CatalogEntry
	retained := 0
	for _, sku := range batch.skus {
		row := batch.rows[sku]
		if row == nil {
			// only mentioned by unusable rows: keep the entry out of the sweep
			if entry, ok := bySKU[sku]; ok && entry.Deleted == models.StateActive {
				entry.Changed = &stamp
				entry.Changer = &i.actor
				updates = append(updates, entry)
				retained++
			}
			continue
		}
		if entry, ok := bySKU[sku]; ok {
			applyRow(entry, row)
			entry.Deleted = models.StateActive
			entry.Changed = &stamp
			entry.Changer = &i.actor
			updates = append(updates, entry)
			continue
		}

		entry := &models.CatalogEntry{
			ProductTypeID:         scope.ProductTypeID,
			ShopID:                scope.ShopID,
			InfoSourceID:          scope.SourceID,
			SynchronizationRuleID: scope.SynchronizationRuleID,
			SKU:                   row.SKU,
			Deleted:               models.StateActive,
			Created:               &stamp,
			Creator:               &i.actor,
			Changed:               &stamp,
			Changer:               &i.actor,
		}
		applyRow(entry, row)
		inserts = append(inserts, entry)
	}

	start := time.Now()
	if err := i.catalog.SaveBatch(ctx, inserts, updates); err != nil {
		return fmt.Errorf("failed to save catalog batch: %w", err)
	}
	util.BatchSaveLatency.Observe(time.Since(start).Seconds())

	updated := len(updates) - retained
	res.Created += len(inserts)
	res.Updated += updated
	res.Retained += retained
	util.EntriesUpsertedTotal.WithLabelValues("created").Add(float64(len(inserts)))
	util.EntriesUpsertedTotal.WithLabelValues("updated").Add(float64(updated))
	util.EntriesUpsertedTotal.WithLabelValues("retained").Add(float64(retained))
	util.FeedRowsTotal.WithLabelValues("saved").Add(float64(len(inserts) + updated))
	return nil
}

// applyRow copies feed values onto entry. Optional values the feed leaves
// empty keep what the catalog already has.
func applyRow(entry *models.CatalogEntry, row *feed.Row) {
	entry.Name = row.Name
	if row.PurchaseCost.Valid {
		entry.PurchaseCost = row.PurchaseCost
	}
	if row.RetailCost.Valid {
		entry.RetailCost = row.RetailCost
	}
	if row.WholesaleCost.Valid {
		entry.WholesaleCost = row.WholesaleCost
	}
	if row.Rest != nil {
		entry.Rest = row.Rest
	}
	if row.Available != nil {
		entry.Available = row.Available
	}
	if row.ImageName != nil {
		entry.ImageName = row.ImageName
	}
}

// rowBatch buffers rows by SKU, keeping the order SKUs were first seen.
// A repeated SKU replaces the earlier row. SKUs only named by unusable rows
// map to a nil row.
type rowBatch struct {
	skus []string
	rows map[string]*feed.Row
}

func newRowBatch(size int) *rowBatch {
	return &rowBatch{
		skus: make([]string, 0, size),
		rows: make(map[string]*feed.Row, size),
	}
}

func (b *rowBatch) add(row *feed.Row) {
	if _, seen := b.rows[row.SKU]; !seen {
		b.skus = append(b.skus, row.SKU)
	}
	b.rows[row.SKU] = row
}

// seen records a SKU named by an unusable row without overriding a usable one
func (b *rowBatch) seen(sku string) {
	if _, ok := b.rows[sku]; !ok {
		b.skus = append(b.skus, sku)
		b.rows[sku] = nil
	}
}

func (b *rowBatch) empty() bool {
	return len(b.skus) == 0
}

func (b *rowBatch) reset() {
	b.skus = b.skus[:0]
	for sku := range b.rows {
		delete(b.rows, sku)
	}
}
