package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// StockMovement is one immutable entry in the stock ledger. Quantity is
// positive for IN, positive for OUT (direction comes from the type), and the
// signed delta for ADJUST. on_hand for a product is always reproducible by
// replaying its movements in order.
type StockMovement struct {
	ID              uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID       uuid.UUID               `gorm:"column:product_id;type:uuid;not null;index"`
	Type            enums.StockMovementType `gorm:"column:type;type:text;not null"`
	Quantity        int                     `gorm:"column:quantity;not null"`
	Reason          string                  `gorm:"column:reason;not null"`
	ResultingOnHand int                     `gorm:"column:resulting_on_hand;not null"`
	CreatedAt       time.Time               `gorm:"column:created_at;autoCreateTime"`
}
