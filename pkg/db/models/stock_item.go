package models

import (
	"time"

	"github.com/google/uuid"
)

// StockItem caches per-product counters derived from the stock ledger.
// Invariant: 0 <= reserved <= on_hand. Available stock is on_hand - reserved;
// no other component computes stock arithmetic.
type StockItem struct {
	ProductID    uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	OnHand       int       `gorm:"column:on_hand;not null;default:0"`
	Reserved     int       `gorm:"column:reserved;not null;default:0"`
	ReorderPoint int       `gorm:"column:reorder_point;not null;default:0"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Available returns the quantity that can still be reserved.
func (s StockItem) Available() int {
	return s.OnHand - s.Reserved
}
