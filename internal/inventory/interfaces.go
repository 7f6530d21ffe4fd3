package inventory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/pagination"
)

// Repository defines persistence operations for stock tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindForUpdate(ctx context.Context, productIDs []uuid.UUID) ([]models.StockItem, error)
	FindStockItem(ctx context.Context, productID uuid.UUID) (*models.StockItem, error)
	CreateStockItem(ctx context.Context, item *models.StockItem) error
	UpdateCounters(ctx context.Context, productID uuid.UUID, updates map[string]any) error
	CreateMovement(ctx context.Context, movement *models.StockMovement) error
	ListStockItems(ctx context.Context, params pagination.Params) (*StockList, error)
	ListMovements(ctx context.Context, productID uuid.UUID, params pagination.Params) (*MovementList, error)
	ListBelowReorderPoint(ctx context.Context) ([]models.StockItem, error)
}

// StockList wraps paginated stock rows plus the next cursor.
type StockList struct {
	Items      []models.StockItem `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// MovementList wraps the paginated ledger plus the next cursor.
type MovementList struct {
	Movements  []models.StockMovement `json:"movements"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}
