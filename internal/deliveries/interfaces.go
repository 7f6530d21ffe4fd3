package deliveries

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/pagination"
)

// Repository defines persistence operations for delivery tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, delivery *models.Delivery) error
	FindDelivery(ctx context.Context, deliveryID uuid.UUID) (*models.Delivery, error)
	FindActiveDeliveryByOrder(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error)
	UpdateGuarded(ctx context.Context, deliveryID uuid.UUID, expectedStatusVersion int64, updates map[string]any) (int64, error)
	AppendHistory(ctx context.Context, entry *models.DeliveryHistory) error
	FindHistoryByIdempotencyKey(ctx context.Context, deliveryID uuid.UUID, key string) (*models.DeliveryHistory, error)
	ListDeliveries(ctx context.Context, params pagination.Params, filters DeliveryFilters) (*DeliveryList, error)
}
