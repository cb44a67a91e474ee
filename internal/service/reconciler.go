package service

import (
	"context"
	"fmt"
	"time"

	"catalog-sync/internal/util"

	"go.opentelemetry.io/otel/attribute"
)

// Reconciler soft-deletes catalog entries that a feed run did not touch
type Reconciler struct {
	catalog CatalogRepository
	events  SyncEvents
	actor   string
	now     func() time.Time
}

// NewReconciler creates a new reconciler. Swept entries are stamped with actor as their changer.
func NewReconciler(catalog CatalogRepository, events SyncEvents, actor string) *Reconciler {
	return &Reconciler{
		catalog: catalog,
		events:  events,
		actor:   actor,
		now:     time.Now,
	}
}

// ReconcileStale marks deleted every active entry of (sourceID, shopID) changed
// strictly before cutover and returns how many were swept. Entries with no change
// timestamp are left alone. Running it again with the same cutover sweeps nothing new.
func (r *Reconciler) ReconcileStale(ctx context.Context, cutover time.Time, sourceID, shopID int64) (int, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.ReconcileStale")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("source_id", sourceID),
		attribute.Int64("shop_id", shopID),
	)

	swept, err := r.catalog.MarkStaleDeleted(ctx, cutover, sourceID, shopID, r.now(), r.actor)
	if err != nil {
		util.SpanError(span, err)
		return 0, fmt.Errorf("failed to sweep stale entries: %w", err)
	}

	util.EntriesSweptTotal.Add(float64(swept))
	span.SetAttributes(attribute.Int("swept", swept))
	r.events.SweepCompleted(sourceID, shopID, cutover, swept)

	return swept, nil
}
