package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// Order is the customer order moving through preparation and dispatch.
// Status only changes through the lifecycle transition API; Version backs the
// optimistic concurrency check on every mutation.
type Order struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID   uuid.UUID         `gorm:"column:customer_id;type:uuid;not null"`
	OrderNumber  int64             `gorm:"column:order_number;not null;uniqueIndex"`
	CustomerName string            `gorm:"column:customer_name;not null"`
	Status       enums.OrderStatus `gorm:"column:status;type:text;not null;default:'PENDING'"`
	TotalCents   int64             `gorm:"column:total_cents;not null"`
	AddressLine1 string            `gorm:"column:address_line1;not null"`
	AddressLine2 *string           `gorm:"column:address_line2"`
	City         string            `gorm:"column:city;not null"`
	PostalCode   string            `gorm:"column:postal_code;not null"`
	Version      int64             `gorm:"column:version;not null;default:0"`
	ArchivedAt   *time.Time        `gorm:"column:archived_at"`
	Items        []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	History      []OrderHistory    `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderItem is one product line on an order. Line order is irrelevant.
type OrderItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Qty            int       `gorm:"column:qty;not null"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null"`
}
