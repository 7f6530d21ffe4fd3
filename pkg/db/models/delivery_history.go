package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// DeliveryHistory is the append-only transition log for a delivery. The
// idempotency key is persisted here (unique per delivery) so a replayed call
// can be detected after any cache loss, not just while the HTTP-level record
// is warm.
type DeliveryHistory struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DeliveryID     uuid.UUID            `gorm:"column:delivery_id;type:uuid;not null;index;uniqueIndex:ux_delivery_history_idem,priority:1"`
	FromStatus     enums.DeliveryStatus `gorm:"column:from_status;type:text;not null"`
	ToStatus       enums.DeliveryStatus `gorm:"column:to_status;type:text;not null"`
	Actor          string               `gorm:"column:actor;not null"`
	Notes          *string              `gorm:"column:notes"`
	IdempotencyKey *string              `gorm:"column:idempotency_key;uniqueIndex:ux_delivery_history_idem,priority:2"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
}
