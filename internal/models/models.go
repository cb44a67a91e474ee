package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DeletedState is the soft-delete flag of a catalog row
type DeletedState int

const (
	StateActive  DeletedState = 0
	StateDeleted DeletedState = 1
)

func (s DeletedState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("DeletedState(%d)", int(s))
	}
}

// MarshalText keeps the flag readable in JSON snapshots
func (s DeletedState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText
func (s *DeletedState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "active":
		*s = StateActive
	case "deleted":
		*s = StateDeleted
	default:
		return fmt.Errorf("unknown deleted state %q", string(text))
	}
	return nil
}

// CatalogEntry represents a sellable product of one shop
type CatalogEntry struct {
	ID                    int64               `db:"id" json:"id"`
	ProductTypeID         int64               `db:"product_type_id" json:"product_type_id"`
	ShopID                int64               `db:"shop_id" json:"shop_id"`
	InfoSourceID          int64               `db:"info_source_id" json:"info_source_id"`
	SynchronizationRuleID int64               `db:"synchronization_rule_id" json:"synchronization_rule_id"`
	SKU                   string              `db:"sku" json:"sku"`
	Name                  string              `db:"name" json:"name"`
	PurchaseCost          decimal.NullDecimal `db:"purchase_cost" json:"purchase_cost"`
	RetailCost            decimal.NullDecimal `db:"retail_cost" json:"retail_cost"`
	WholesaleCost         decimal.NullDecimal `db:"wholesale_cost" json:"wholesale_cost"`
	Rest                  *int                `db:"rest" json:"rest,omitempty"`
	ImageName             *string             `db:"image_name" json:"image_name,omitempty"`
	Available             *string             `db:"available" json:"available,omitempty"`
	Deleted               DeletedState        `db:"deleted" json:"deleted"`
	Created               *time.Time          `db:"created" json:"created,omitempty"`
	Creator               *string             `db:"creator" json:"creator,omitempty"`
	Changed               *time.Time          `db:"changed" json:"changed,omitempty"`
	Changer               *string             `db:"changer" json:"changer,omitempty"`
}

// OperationStatus is the pollable progress record of one synchronization run
type OperationStatus struct {
	ID               int64      `db:"id" json:"id"`
	OperationID      int64      `db:"operation_id" json:"operation_id"`
	Current          int        `db:"current" json:"current"`
	Total            int        `db:"total" json:"total"`
	ErrorText        *string    `db:"error_text" json:"error_text"`
	CurrentOperation string     `db:"current_operation" json:"current_operation"`
	BeginOperation   *time.Time `db:"begin_operation" json:"begin_operation"`
	EndOperation     *time.Time `db:"end_operation" json:"end_operation"`
}

// Finished reports whether the run has been finalized
func (s *OperationStatus) Finished() bool {
	return s.EndOperation != nil
}

// InfoSource is the origin of catalog data (price list, manual input...)
type InfoSource struct {
	ID      int64        `db:"id" json:"id"`
	Name    string       `db:"name" json:"name"`
	Deleted DeletedState `db:"deleted" json:"deleted"`
}

// Shop owns catalog entries
type Shop struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// SynchronizationRule describes how a source's rows are applied to the catalog
type SynchronizationRule struct {
	ID   int64  `db:"id" json:"id"`
	Code int    `db:"code" json:"code"`
	Name string `db:"name" json:"name"`
}

// Run phases written to OperationStatus.CurrentOperation
const (
	PhaseQueued     = "queued"
	PhaseStarting   = "starting"
	PhaseProcessing = "processing feed"
	PhaseSweeping   = "removing products missing from feed"
	PhaseCompleted  = "completed"
	PhaseFailed     = "failed"
)
