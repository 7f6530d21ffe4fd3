package controllers

import (
	"net/http"

	"github.com/angelmondragon/dispatch-backend/api/responses"
	"github.com/angelmondragon/dispatch-backend/api/validators"
	"github.com/angelmondragon/dispatch-backend/internal/qr"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
)

type scanQRRequest struct {
	Token string `json:"token" validate:"required"`
}

type qrOverrideRequest struct {
	DeliveryID   string `json:"delivery_id" validate:"required"`
	OrderNumber  int64  `json:"order_number" validate:"required,min=1"`
	CustomerName string `json:"customer_name" validate:"required,max=200"`
	Reason       string `json:"reason" validate:"required,max=500"`
}

// ScanQR validates a proof-of-delivery token. A bad token is a verdict, not
// an error, so the response is always 200 with a freshness field.
func ScanQR(svc qr.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scanQRRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Scan(r.Context(), req.Token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// QROverride records a manual verification fallback after matching the order
// number and customer name against the live order.
func QROverride(svc qr.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req qrOverrideRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		deliveryID, err := parseOptionalUUID(&req.DeliveryID, "delivery_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if deliveryID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "delivery_id is required"))
			return
		}

		result, err := svc.ManualOverride(r.Context(), qr.ManualOverrideInput{
			DeliveryID:   *deliveryID,
			OrderNumber:  req.OrderNumber,
			CustomerName: validators.SanitizeString(req.CustomerName, 200),
			Reason:       validators.SanitizeString(req.Reason, 500),
			Actor:        actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
