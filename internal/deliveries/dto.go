package deliveries

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

// DeliveryFilters describe the inputs supported by the deliveries list.
type DeliveryFilters struct {
	Status   *enums.DeliveryStatus
	DriverID *uuid.UUID
	OrderID  *uuid.UUID
	DateFrom *time.Time
	DateTo   *time.Time
}

// DeliveryList wraps the paginated deliveries plus the next page cursor.
type DeliveryList struct {
	Deliveries []models.Delivery `json:"deliveries"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// CreateInput opens a delivery for an order that is ready for dispatch.
type CreateInput struct {
	OrderID       uuid.UUID
	DriverID      *uuid.UUID
	ScheduledTime *time.Time
	Actor         string
}

// AssignInput sets or reassigns the driver while the delivery is ASSIGNED.
type AssignInput struct {
	DeliveryID     uuid.UUID
	DriverID       uuid.UUID
	Actor          string
	IdempotencyKey string
}

// StartInput moves the delivery (and its order) out the door. DriverID must
// match the assigned driver.
type StartInput struct {
	DeliveryID     uuid.UUID
	DriverID       uuid.UUID
	Actor          string
	IdempotencyKey string
}

// CompleteInput closes the delivery with proof of receipt.
type CompleteInput struct {
	DeliveryID        uuid.UUID
	DeliveredTo       string
	ProofSignatureRef *string
	ProofPhotoRef     *string
	Actor             string
	IdempotencyKey    string
}

// IssueInput reports a problem in transit. Failed marks the delivery
// unrecoverable; otherwise it is delayed and can resume.
type IssueInput struct {
	DeliveryID     uuid.UUID
	Reason         string
	Failed         bool
	Actor          string
	IdempotencyKey string
}

// ResumeInput returns a delayed delivery to transit.
type ResumeInput struct {
	DeliveryID     uuid.UUID
	Actor          string
	IdempotencyKey string
}

// CancelInput aborts a delivery that has not reached a terminal state.
type CancelInput struct {
	DeliveryID     uuid.UUID
	Reason         *string
	Actor          string
	IdempotencyKey string
}
