package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/api/responses"
	"github.com/angelmondragon/dispatch-backend/api/validators"
	internalorders "github.com/angelmondragon/dispatch-backend/internal/orders"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
)

type createOrderItemRequest struct {
	ProductID      string `json:"product_id" validate:"required"`
	Qty            int    `json:"qty" validate:"required,min=1"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"min=0"`
}

type createOrderRequest struct {
	CustomerID   string                   `json:"customer_id" validate:"required"`
	CustomerName string                   `json:"customer_name" validate:"required,max=200"`
	AddressLine1 string                   `json:"address_line1" validate:"required,max=300"`
	AddressLine2 *string                  `json:"address_line2"`
	City         string                   `json:"city" validate:"required,max=120"`
	PostalCode   string                   `json:"postal_code" validate:"required,max=20"`
	Items        []createOrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type transitionOrderRequest struct {
	Target string  `json:"target" validate:"required"`
	Notes  *string `json:"notes"`
}

// CreateOrder opens a PENDING order on behalf of the checkout collaborator.
func CreateOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		customerID, err := uuid.Parse(strings.TrimSpace(req.CustomerID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid customer_id"))
			return
		}

		items := make([]internalorders.CreateItemInput, 0, len(req.Items))
		for _, item := range req.Items {
			productID, err := uuid.Parse(strings.TrimSpace(item.ProductID))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid item product_id"))
				return
			}
			items = append(items, internalorders.CreateItemInput{
				ProductID:      productID,
				Qty:            item.Qty,
				UnitPriceCents: item.UnitPriceCents,
			})
		}

		order, err := svc.Create(r.Context(), internalorders.CreateOrderInput{
			CustomerID:   customerID,
			CustomerName: validators.SanitizeString(req.CustomerName, 200),
			AddressLine1: validators.SanitizeString(req.AddressLine1, 300),
			AddressLine2: req.AddressLine2,
			City:         validators.SanitizeString(req.City, 120),
			PostalCode:   validators.SanitizeString(req.PostalCode, 20),
			Items:        items,
			Actor:        actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// ListOrders returns a cursor page of orders with optional filters.
func ListOrders(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := parsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filters := internalorders.OrderFilters{
			Query: validators.SanitizeString(r.URL.Query().Get("q"), 200),
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseOrderStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			filters.Status = &status
		}
		if filters.CustomerID, err = parseQueryUUID(r, "customer_id"); err != nil {
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

// OrderDetail returns one order with its items and history.
func OrderDetail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// TransitionOrder applies one lifecycle transition to an order.
func TransitionOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := parseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req transitionOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		target, err := enums.ParseOrderStatus(strings.TrimSpace(req.Target))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid target status"))
			return
		}

		order, err := svc.Transition(r.Context(), internalorders.TransitionInput{
			OrderID: orderID,
			Target:  target,
			Actor:   actor,
			Notes:   req.Notes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}
