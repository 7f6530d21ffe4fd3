package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/api/responses"
	"github.com/angelmondragon/dispatch-backend/api/validators"
	internaldeliveries "github.com/angelmondragon/dispatch-backend/internal/deliveries"
	"github.com/angelmondragon/dispatch-backend/internal/qr"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
)

type createDeliveryRequest struct {
	OrderID       string     `json:"order_id" validate:"required"`
	DriverID      *string    `json:"driver_id"`
	ScheduledTime *time.Time `json:"scheduled_time"`
}

type assignDeliveryRequest struct {
	DriverID string `json:"driver_id" validate:"required"`
}

type startDeliveryRequest struct {
	DriverID string `json:"driver_id" validate:"required"`
}

type completeDeliveryRequest struct {
	DeliveredTo       string  `json:"delivered_to" validate:"required,max=200"`
	ProofSignatureRef *string `json:"proof_signature_ref"`
	ProofPhotoRef     *string `json:"proof_photo_ref"`
}

type issueDeliveryRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
	Failed bool   `json:"failed"`
}

type cancelDeliveryRequest struct {
	Reason *string `json:"reason"`
}

// CreateDelivery opens a delivery for an order that is ready for dispatch.
func CreateDelivery(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createDeliveryRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := parseOptionalUUID(&req.OrderID, "order_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if orderID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order_id is required"))
			return
		}
		driverID, err := parseOptionalUUID(req.DriverID, "driver_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		delivery, err := svc.Create(r.Context(), internaldeliveries.CreateInput{
			OrderID:       *orderID,
			DriverID:      driverID,
			ScheduledTime: req.ScheduledTime,
			Actor:         actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, delivery)
	}
}

// ListDeliveries returns a cursor page of deliveries with optional filters.
func ListDeliveries(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := parsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var filters internaldeliveries.DeliveryFilters
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseDeliveryStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			filters.Status = &status
		}
		if filters.DriverID, err = parseQueryUUID(r, "driver_id"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filters.OrderID, err = parseQueryUUID(r, "order_id"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filters.DateFrom, err = parseQueryTime(r, "date_from"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filters.DateTo, err = parseQueryTime(r, "date_to"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.List(r.Context(), params, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// DeliveryDetail returns one delivery with its history.
func DeliveryDetail(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deliveryID, err := parseUUIDParam(r, "deliveryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		delivery, err := svc.Get(r.Context(), deliveryID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, delivery)
	}
}

// AssignDelivery sets or swaps the driver on an assigned delivery.
func AssignDelivery(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, deliveryID, key, err := mutationInputs(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req assignDeliveryRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		driverID, err := parseOptionalUUID(&req.DriverID, "driver_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if driverID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "driver_id is required"))
			return
		}

		delivery, err := svc.Assign(r.Context(), internaldeliveries.AssignInput{
			DeliveryID:     deliveryID,
			DriverID:       *driverID,
			Actor:          actor,
			IdempotencyKey: key,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, delivery)
	}
}

// StartDelivery moves the delivery and its order out for delivery. Only the
// assigned driver may start it.
func StartDelivery(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, deliveryID, key, err := mutationInputs(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req startDeliveryRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		driverID, err := parseOptionalUUID(&req.DriverID, "driver_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if driverID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "driver_id is required"))
			return
		}

		delivery, err := svc.Start(r.Context(), internaldeliveries.StartInput{
			DeliveryID:     deliveryID,
			DriverID:       *driverID,
			Actor:          actor,
			IdempotencyKey: key,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, delivery)
	}
}

// CompleteDelivery closes the delivery with proof of receipt and cascades
// the order to DELIVERED.
func CompleteDelivery(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, deliveryID, key, err := mutationInputs(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req completeDeliveryRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		delivery, err := svc.Complete(r.Context(), internaldeliveries.CompleteInput{
			DeliveryID:        deliveryID,
			DeliveredTo:       validators.SanitizeString(req.DeliveredTo, 200),
			ProofSignatureRef: req.ProofSignatureRef,
			ProofPhotoRef:     req.ProofPhotoRef,
			Actor:             actor,
			IdempotencyKey:    key,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, delivery)
	}
}

// ReportDeliveryIssue marks the delivery delayed, or failed when unrecoverable.
func ReportDeliveryIssue(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, deliveryID, key, err := mutationInputs(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req issueDeliveryRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		delivery, err := svc.ReportIssue(r.Context(), internaldeliveries.IssueInput{
			DeliveryID:     deliveryID,
			Reason:         validators.SanitizeString(req.Reason, 500),
			Failed:         req.Failed,
			Actor:          actor,
			IdempotencyKey: key,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, delivery)
	}
}

// ResumeDelivery returns a delayed delivery to transit.
func ResumeDelivery(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, deliveryID, key, err := mutationInputs(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		delivery, err := svc.Resume(r.Context(), internaldeliveries.ResumeInput{
			DeliveryID:     deliveryID,
			Actor:          actor,
			IdempotencyKey: key,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, delivery)
	}
}

// CancelDelivery aborts a delivery that has not reached a terminal state.
func CancelDelivery(svc internaldeliveries.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, deliveryID, key, err := mutationInputs(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req cancelDeliveryRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		delivery, err := svc.Cancel(r.Context(), internaldeliveries.CancelInput{
			DeliveryID:     deliveryID,
			Reason:         req.Reason,
			Actor:          actor,
			IdempotencyKey: key,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, delivery)
	}
}

// DeliveryQRToken issues the proof-of-delivery token bound to the delivery's
// current status version.
func DeliveryQRToken(svc qr.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deliveryID, err := parseUUIDParam(r, "deliveryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		token, err := svc.GenerateToken(r.Context(), deliveryID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"token": token})
	}
}

func mutationInputs(r *http.Request) (string, uuid.UUID, string, error) {
	actor, err := requireActor(r)
	if err != nil {
		return "", uuid.Nil, "", err
	}
	deliveryID, err := parseUUIDParam(r, "deliveryId")
	if err != nil {
		return "", uuid.Nil, "", err
	}
	key := idempotencyKey(r)
	if key == "" {
		return "", uuid.Nil, "", pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required")
	}
	return actor, deliveryID, key, nil
}
