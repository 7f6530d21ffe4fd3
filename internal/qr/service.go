package qr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/pkg/config"
	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
	"github.com/angelmondragon/dispatch-backend/pkg/outbox"
	"github.com/angelmondragon/dispatch-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type deliveryFinder interface {
	FindDelivery(ctx context.Context, deliveryID uuid.UUID) (*models.Delivery, error)
}

type orderFinder interface {
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

// ScanResult is the verdict of a scan plus the live delivery when the tag
// resolved to one.
type ScanResult struct {
	Delivery  *models.Delivery  `json:"delivery,omitempty"`
	Freshness enums.QRFreshness `json:"freshness"`
}

// ManualOverrideInput is the lost-or-damaged-code fallback. The caller must
// restate the order number and customer name to prove physical possession.
type ManualOverrideInput struct {
	DeliveryID   uuid.UUID
	OrderNumber  int64
	CustomerName string
	Reason       string
	Actor        string
}

// Service validates delivery scan tokens against live state.
type Service interface {
	GenerateToken(ctx context.Context, deliveryID uuid.UUID) (string, error)
	Scan(ctx context.Context, token string) (*ScanResult, error)
	ManualOverride(ctx context.Context, input ManualOverrideInput) (*ScanResult, error)
}

type service struct {
	deliveries deliveryFinder
	orders     orderFinder
	tx         txRunner
	outbox     outboxPublisher
	logg       *logger.Logger
	secret     string
}

// NewService builds the QR verification service.
func NewService(deliveries deliveryFinder, orders orderFinder, tx txRunner, outbox outboxPublisher, logg *logger.Logger, cfg config.QRConfig) (Service, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery finder required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order finder required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("qr signing secret required")
	}
	return &service{
		deliveries: deliveries,
		orders:     orders,
		tx:         tx,
		outbox:     outbox,
		logg:       logg,
		secret:     cfg.Secret,
	}, nil
}

func (s *service) GenerateToken(ctx context.Context, deliveryID uuid.UUID) (string, error) {
	if deliveryID == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "delivery id required")
	}
	delivery, err := s.deliveries.FindDelivery(ctx, deliveryID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery")
	}

	payload := tokenPayload{
		DeliveryID:    delivery.ID,
		OrderID:       delivery.OrderID,
		StatusVersion: delivery.StatusVersion,
	}
	payload.Tag = signTag(s.secret, payload.DeliveryID, payload.OrderID, payload.StatusVersion)

	token, err := encodeToken(payload)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode token")
	}
	return token, nil
}

// Scan never fails on a bad token; it reports the verdict. A tag that checks
// out against an older status version is STALE, not INVALID, so the calling
// workflow can offer the override path instead of rejecting outright.
func (s *service) Scan(ctx context.Context, token string) (*ScanResult, error) {
	payload, err := decodeToken(token)
	if err != nil {
		s.warn(ctx, "qr scan rejected, malformed token")
		return &ScanResult{Freshness: enums.QRInvalid}, nil
	}
	if !payload.verify(s.secret) {
		s.warn(ctx, "qr scan rejected, integrity tag mismatch")
		return &ScanResult{Freshness: enums.QRInvalid}, nil
	}

	delivery, err := s.deliveries.FindDelivery(ctx, payload.DeliveryID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			s.warn(ctx, "qr scan rejected, unknown delivery")
			return &ScanResult{Freshness: enums.QRInvalid}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery")
	}
	if delivery.OrderID != payload.OrderID {
		s.warn(ctx, "qr scan rejected, order mismatch")
		return &ScanResult{Freshness: enums.QRInvalid}, nil
	}

	if payload.StatusVersion == delivery.StatusVersion {
		return &ScanResult{Delivery: delivery, Freshness: enums.QRFresh}, nil
	}
	if payload.StatusVersion < delivery.StatusVersion {
		s.warn(ctx, "qr scan stale, delivery has moved on")
		return &ScanResult{Delivery: delivery, Freshness: enums.QRStale}, nil
	}
	// a version ahead of the live row cannot have been issued by us
	s.warn(ctx, "qr scan rejected, version ahead of live state")
	return &ScanResult{Freshness: enums.QRInvalid}, nil
}

func (s *service) ManualOverride(ctx context.Context, input ManualOverrideInput) (*ScanResult, error) {
	if input.DeliveryID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id required")
	}
	if strings.TrimSpace(input.CustomerName) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer name required")
	}

	delivery, err := s.deliveries.FindDelivery(ctx, input.DeliveryID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery")
	}
	order, err := s.orders.FindOrder(ctx, delivery.OrderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	if order.OrderNumber != input.OrderNumber ||
		!strings.EqualFold(strings.TrimSpace(input.CustomerName), order.CustomerName) {
		s.warn(ctx, "manual override rejected, details do not match")
		return nil, pkgerrors.New(pkgerrors.CodeInvalidQRToken, "order details do not match")
	}

	// the override bypasses the cryptographic check, so it always leaves an
	// audit event behind
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		event := outbox.DomainEvent{
			EventType:     enums.EventQROverrideUsed,
			AggregateType: enums.AggregateDelivery,
			AggregateID:   delivery.ID,
			Version:       1,
			Data: payloads.QROverrideUsedEvent{
				DeliveryID:  delivery.ID,
				OrderID:     order.ID,
				OrderNumber: fmt.Sprintf("%d", order.OrderNumber),
				Actor:       input.Actor,
				Reason:      input.Reason,
				UsedAt:      time.Now().UTC(),
			},
		}
		return s.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record override")
	}

	if s.logg != nil {
		logCtx := s.logg.WithDeliveryID(ctx, delivery.ID.String())
		logCtx = s.logg.WithActor(logCtx, input.Actor)
		s.logg.Warn(logCtx, "qr manual override used")
	}
	return &ScanResult{Delivery: delivery, Freshness: enums.QRManualOverride}, nil
}

func (s *service) warn(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Warn(ctx, msg)
	}
}
