package deliveries

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	"github.com/angelmondragon/dispatch-backend/pkg/pagination"
)

var activeStatuses = []enums.DeliveryStatus{
	enums.DeliveryStatusAssigned,
	enums.DeliveryStatusInTransit,
	enums.DeliveryStatusDelayed,
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a deliveries repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, delivery *models.Delivery) error {
	return r.db.WithContext(ctx).Create(delivery).Error
}

func (r *repository) FindDelivery(ctx context.Context, deliveryID uuid.UUID) (*models.Delivery, error) {
	var delivery models.Delivery
	err := r.db.WithContext(ctx).
		Preload("History", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("id = ?", deliveryID).
		First(&delivery).Error
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

func (r *repository) FindActiveDeliveryByOrder(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error) {
	var delivery models.Delivery
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status IN ?", orderID, activeStatuses).
		First(&delivery).Error
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

// UpdateGuarded applies updates only when status_version still matches, and
// bumps it exactly once.
func (r *repository) UpdateGuarded(ctx context.Context, deliveryID uuid.UUID, expectedStatusVersion int64, updates map[string]any) (int64, error) {
	updates["status_version"] = gorm.Expr("status_version + 1")
	res := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("id = ? AND status_version = ?", deliveryID, expectedStatusVersion).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) AppendHistory(ctx context.Context, entry *models.DeliveryHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindHistoryByIdempotencyKey(ctx context.Context, deliveryID uuid.UUID, key string) (*models.DeliveryHistory, error) {
	var entry models.DeliveryHistory
	err := r.db.WithContext(ctx).
		Where("delivery_id = ? AND idempotency_key = ?", deliveryID, key).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ListDeliveries(ctx context.Context, params pagination.Params, filters DeliveryFilters) (*DeliveryList, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit + 1)

	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.DriverID != nil {
		query = query.Where("driver_id = ?", *filters.DriverID)
	}
	if filters.OrderID != nil {
		query = query.Where("order_id = ?", *filters.OrderID)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var deliveries []models.Delivery
	if err := query.Find(&deliveries).Error; err != nil {
		return nil, err
	}

	list := &DeliveryList{}
	if len(deliveries) > limit {
		deliveries = deliveries[:limit]
		last := deliveries[len(deliveries)-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	list.Deliveries = deliveries
	return list, nil
}
