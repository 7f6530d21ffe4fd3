// Package payloads defines the typed event bodies wrapped by the outbox
// envelope. Consumers decode the envelope's data field into one of these.
package payloads

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatusChangedEvent struct {
	OrderID     uuid.UUID `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	OldStatus   string    `json:"oldStatus"`
	NewStatus   string    `json:"newStatus"`
	Actor       string    `json:"actor,omitempty"`
	ChangedAt   time.Time `json:"changedAt"`
}

type DeliveryStatusChangedEvent struct {
	DeliveryID    uuid.UUID  `json:"deliveryId"`
	OrderID       uuid.UUID  `json:"orderId"`
	DriverID      *uuid.UUID `json:"driverId,omitempty"`
	OldStatus     string     `json:"oldStatus"`
	NewStatus     string     `json:"newStatus"`
	StatusVersion int64      `json:"statusVersion"`
	IssueReason   string     `json:"issueReason,omitempty"`
	Actor         string     `json:"actor,omitempty"`
	ChangedAt     time.Time  `json:"changedAt"`
}

type StockBelowReorderEvent struct {
	ProductID    string    `json:"productId"`
	OnHand       int64     `json:"onHand"`
	Reserved     int64     `json:"reserved"`
	Available    int64     `json:"available"`
	ReorderPoint int64     `json:"reorderPoint"`
	ObservedAt   time.Time `json:"observedAt"`
}

type TaskOverdueEvent struct {
	TaskID     uuid.UUID  `json:"taskId"`
	Title      string     `json:"title"`
	AssigneeID *uuid.UUID `json:"assigneeId,omitempty"`
	Priority   string     `json:"priority"`
	DueDate    time.Time  `json:"dueDate"`
	DetectedAt time.Time  `json:"detectedAt"`
}

type ProofCapturedEvent struct {
	DeliveryID        uuid.UUID `json:"deliveryId"`
	OrderID           uuid.UUID `json:"orderId"`
	DeliveredTo       string    `json:"deliveredTo"`
	ProofSignatureRef string    `json:"proofSignatureRef,omitempty"`
	ProofPhotoRef     string    `json:"proofPhotoRef,omitempty"`
	CapturedAt        time.Time `json:"capturedAt"`
}

type QROverrideUsedEvent struct {
	DeliveryID  uuid.UUID `json:"deliveryId"`
	OrderID     uuid.UUID `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	Actor       string    `json:"actor,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	UsedAt      time.Time `json:"usedAt"`
}
