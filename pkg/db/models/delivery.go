package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// Delivery is the driver-facing task for one order. The partial unique index
// on order_id (active rows only) enforces one delivery per active order.
// StatusVersion increments exactly once per accepted transition and doubles
// as the optimistic concurrency token and the QR freshness anchor.
type Delivery struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID            `gorm:"column:order_id;type:uuid;not null;index"`
	DriverID          *uuid.UUID           `gorm:"column:driver_id;type:uuid"`
	Status            enums.DeliveryStatus `gorm:"column:status;type:text;not null;default:'ASSIGNED'"`
	StatusVersion     int64                `gorm:"column:status_version;not null;default:0"`
	ScheduledTime     *time.Time           `gorm:"column:scheduled_time"`
	StartTime         *time.Time           `gorm:"column:start_time"`
	CompletedAt       *time.Time           `gorm:"column:completed_at"`
	DeliveredTo       *string              `gorm:"column:delivered_to"`
	ProofSignatureRef *string              `gorm:"column:proof_signature_ref"`
	ProofPhotoRef     *string              `gorm:"column:proof_photo_ref"`
	IssueReason       *string              `gorm:"column:issue_reason"`
	History           []DeliveryHistory    `gorm:"foreignKey:DeliveryID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
