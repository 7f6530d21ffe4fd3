package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// OrderFilters describe the inputs supported by the orders list.
type OrderFilters struct {
	Status     *enums.OrderStatus
	CustomerID *uuid.UUID
	DateFrom   *time.Time
	DateTo     *time.Time
	Query      string
}

// OrderList wraps the paginated orders plus the next page cursor.
type OrderList struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// CreateItemInput is one product line on a new order.
type CreateItemInput struct {
	ProductID      uuid.UUID
	Qty            int
	UnitPriceCents int64
}

// CreateOrderInput carries everything needed to open a PENDING order.
type CreateOrderInput struct {
	CustomerID   uuid.UUID
	CustomerName string
	AddressLine1 string
	AddressLine2 *string
	City         string
	PostalCode   string
	Items        []CreateItemInput
	Actor        string
}

// TransitionInput carries one lifecycle transition request.
type TransitionInput struct {
	OrderID uuid.UUID
	Target  enums.OrderStatus
	Actor   string
	Notes   *string
}
