package store

import (
	"context"
	"fmt"
	"time"

	"catalog-sync/internal/models"

	"github.com/jmoiron/sqlx"
)

const catalogColumns = `id, product_type_id, shop_id, info_source_id, synchronization_rule_id, sku, name,
	purchase_cost, retail_cost, wholesale_cost, rest, image_name, available, deleted,
	created, creator, changed, changer`

// GetEntriesBySKUs retrieves the catalog entries of a (source, shop) scope matching the given SKUs,
// soft-deleted ones included
func (s *Store) GetEntriesBySKUs(ctx context.Context, sourceID, shopID int64, skus []string) ([]models.CatalogEntry, error) {
	if len(skus) == 0 {
		return []models.CatalogEntry{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT "+catalogColumns+" FROM products WHERE info_source_id = ? AND shop_id = ? AND sku IN (?)",
		sourceID, shopID, skus)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var entries []models.CatalogEntry
	err = s.db.SelectContext(ctx, &entries, query, args...)
	return entries, err
}

// SaveBatch inserts and updates catalog entries in a single transaction.
// Either every row of the batch is written or none is.
func (s *Store) SaveBatch(ctx context.Context, inserts, updates []*models.CatalogEntry) error {
	if len(inserts) == 0 && len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range inserts {
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO products (product_type_id, shop_id, info_source_id, synchronization_rule_id, sku, name,
				purchase_cost, retail_cost, wholesale_cost, rest, image_name, available, deleted,
				created, creator, changed, changer)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			RETURNING id`,
			e.ProductTypeID, e.ShopID, e.InfoSourceID, e.SynchronizationRuleID, e.SKU, e.Name,
			e.PurchaseCost, e.RetailCost, e.WholesaleCost, e.Rest, e.ImageName, e.Available, e.Deleted,
			e.Created, e.Creator, e.Changed, e.Changer,
		).Scan(&e.ID)
		if err != nil {
			return fmt.Errorf("failed to insert product %q: %w", e.SKU, err)
		}
	}

	for _, e := range updates {
		_, err := tx.ExecContext(ctx, `
			UPDATE products SET name = $1, purchase_cost = $2, retail_cost = $3, wholesale_cost = $4,
				rest = $5, image_name = $6, available = $7, deleted = $8, changed = $9, changer = $10
			WHERE id = $11`,
			e.Name, e.PurchaseCost, e.RetailCost, e.WholesaleCost,
			e.Rest, e.ImageName, e.Available, e.Deleted, e.Changed, e.Changer,
			e.ID)
		if err != nil {
			return fmt.Errorf("failed to update product %d: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// MarkStaleDeleted soft-deletes every active entry of the scope whose change
// timestamp is strictly earlier than cutover and returns the number of rows swept
func (s *Store) MarkStaleDeleted(ctx context.Context, cutover time.Time, sourceID, shopID int64, now time.Time, changer string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET deleted = $1, changed = $2, changer = $3
		WHERE info_source_id = $4 AND shop_id = $5 AND deleted = $6 AND changed < $7`,
		models.StateDeleted, now, changer, sourceID, shopID, models.StateActive, cutover)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
