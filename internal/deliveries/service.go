package deliveries

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/internal/orders"
	"github.com/angelmondragon/dispatch-backend/pkg/config"
	"github.com/angelmondragon/dispatch-backend/pkg/db"
	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
	"github.com/angelmondragon/dispatch-backend/pkg/outbox"
	"github.com/angelmondragon/dispatch-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/dispatch-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// OrderGateway is the slice of the order machine the delivery machine drives.
type OrderGateway interface {
	GetTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	TransitionTx(ctx context.Context, tx *gorm.DB, input orders.TransitionInput) (*models.Order, error)
}

// Service defines delivery lifecycle operations.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Delivery, error)
	Get(ctx context.Context, deliveryID uuid.UUID) (*models.Delivery, error)
	List(ctx context.Context, params pagination.Params, filters DeliveryFilters) (*DeliveryList, error)
	Assign(ctx context.Context, input AssignInput) (*models.Delivery, error)
	Start(ctx context.Context, input StartInput) (*models.Delivery, error)
	Complete(ctx context.Context, input CompleteInput) (*models.Delivery, error)
	ReportIssue(ctx context.Context, input IssueInput) (*models.Delivery, error)
	Resume(ctx context.Context, input ResumeInput) (*models.Delivery, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Delivery, error)
	// CancelForOrderTx cancels the order's active delivery inside a
	// caller-owned transaction. A no-op when no active delivery exists.
	CancelForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor string) error
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	ordersG OrderGateway
	logg    *logger.Logger
	cfg     config.TransitionConfig
}

// NewService builds a delivery service with the required dependencies.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, gateway OrderGateway, logg *logger.Logger, cfg config.TransitionConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("deliveries repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("order gateway required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &service{
		repo:    repo,
		tx:      tx,
		outbox:  outbox,
		ordersG: gateway,
		logg:    logg,
		cfg:     cfg,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Delivery, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var delivery *models.Delivery
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.ordersG.GetTx(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusReadyForDispatch {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not ready for dispatch").
				WithCurrentStatus(order.Status.String())
		}

		delivery = &models.Delivery{
			OrderID:       input.OrderID,
			DriverID:      input.DriverID,
			Status:        enums.DeliveryStatusAssigned,
			ScheduledTime: input.ScheduledTime,
		}
		if err := s.repo.WithTx(tx).Create(ctx, delivery); err != nil {
			if db.IsUniqueViolation(err, "ux_deliveries_active_order") {
				return pkgerrors.New(pkgerrors.CodeConflict, "order already has an active delivery")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create delivery")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return delivery, nil
}

func (s *service) Get(ctx context.Context, deliveryID uuid.UUID) (*models.Delivery, error) {
	if deliveryID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id required")
	}
	delivery, err := s.repo.FindDelivery(ctx, deliveryID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery")
	}
	return delivery, nil
}

func (s *service) List(ctx context.Context, params pagination.Params, filters DeliveryFilters) (*DeliveryList, error) {
	if filters.Status != nil && !filters.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	list, err := s.repo.ListDeliveries(ctx, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list deliveries")
	}
	return list, nil
}

func (s *service) Assign(ctx context.Context, input AssignInput) (*models.Delivery, error) {
	if input.DriverID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "driver id required")
	}
	return s.mutate(ctx, mutation{
		deliveryID:     input.DeliveryID,
		idempotencyKey: input.IdempotencyKey,
		actor:          input.Actor,
		target:         enums.DeliveryStatusAssigned,
		allowSame:      true,
		build: func(d *models.Delivery) (map[string]any, []outbox.DomainEvent, *orders.TransitionInput, error) {
			updates := map[string]any{"driver_id": input.DriverID}
			return updates, nil, nil, nil
		},
	})
}

func (s *service) Start(ctx context.Context, input StartInput) (*models.Delivery, error) {
	if input.DriverID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "driver id required")
	}
	return s.mutate(ctx, mutation{
		deliveryID:     input.DeliveryID,
		idempotencyKey: input.IdempotencyKey,
		actor:          input.Actor,
		target:         enums.DeliveryStatusInTransit,
		build: func(d *models.Delivery) (map[string]any, []outbox.DomainEvent, *orders.TransitionInput, error) {
			if d.DriverID == nil {
				return nil, nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "delivery has no driver assigned").
					WithCurrentStatus(d.Status.String())
			}
			if *d.DriverID != input.DriverID {
				return nil, nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "delivery is assigned to a different driver").
					WithCurrentStatus(d.Status.String())
			}
			updates := map[string]any{
				"status":     enums.DeliveryStatusInTransit,
				"start_time": time.Now(),
			}
			var cascade *orders.TransitionInput
			// resuming from DELAYED does not touch the order again
			if d.Status == enums.DeliveryStatusAssigned {
				cascade = &orders.TransitionInput{
					OrderID: d.OrderID,
					Target:  enums.OrderStatusOutForDelivery,
					Actor:   input.Actor,
				}
			}
			return updates, nil, cascade, nil
		},
	})
}

func (s *service) Complete(ctx context.Context, input CompleteInput) (*models.Delivery, error) {
	deliveredTo := strings.TrimSpace(input.DeliveredTo)
	if deliveredTo == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient name required for proof of delivery")
	}
	return s.mutate(ctx, mutation{
		deliveryID:     input.DeliveryID,
		idempotencyKey: input.IdempotencyKey,
		actor:          input.Actor,
		target:         enums.DeliveryStatusDelivered,
		build: func(d *models.Delivery) (map[string]any, []outbox.DomainEvent, *orders.TransitionInput, error) {
			now := time.Now()
			updates := map[string]any{
				"status":       enums.DeliveryStatusDelivered,
				"completed_at": now,
				"delivered_to": deliveredTo,
			}
			if input.ProofSignatureRef != nil {
				updates["proof_signature_ref"] = *input.ProofSignatureRef
			}
			if input.ProofPhotoRef != nil {
				updates["proof_photo_ref"] = *input.ProofPhotoRef
			}
			proof := outbox.DomainEvent{
				EventType:     enums.EventProofCaptured,
				AggregateType: enums.AggregateDelivery,
				AggregateID:   d.ID,
				Version:       1,
				Data: payloads.ProofCapturedEvent{
					DeliveryID:        d.ID,
					OrderID:           d.OrderID,
					DeliveredTo:       deliveredTo,
					ProofSignatureRef: deref(input.ProofSignatureRef),
					ProofPhotoRef:     deref(input.ProofPhotoRef),
					CapturedAt:        now.UTC(),
				},
			}
			cascade := &orders.TransitionInput{
				OrderID: d.OrderID,
				Target:  enums.OrderStatusDelivered,
				Actor:   input.Actor,
			}
			return updates, []outbox.DomainEvent{proof}, cascade, nil
		},
	})
}

func (s *service) ReportIssue(ctx context.Context, input IssueInput) (*models.Delivery, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "issue reason required")
	}
	target := enums.DeliveryStatusDelayed
	if input.Failed {
		target = enums.DeliveryStatusFailed
	}
	return s.mutate(ctx, mutation{
		deliveryID:     input.DeliveryID,
		idempotencyKey: input.IdempotencyKey,
		actor:          input.Actor,
		target:         target,
		notes:          &reason,
		build: func(d *models.Delivery) (map[string]any, []outbox.DomainEvent, *orders.TransitionInput, error) {
			updates := map[string]any{
				"status":       target,
				"issue_reason": reason,
			}
			return updates, nil, nil, nil
		},
	})
}

func (s *service) Resume(ctx context.Context, input ResumeInput) (*models.Delivery, error) {
	return s.mutate(ctx, mutation{
		deliveryID:     input.DeliveryID,
		idempotencyKey: input.IdempotencyKey,
		actor:          input.Actor,
		target:         enums.DeliveryStatusInTransit,
		build: func(d *models.Delivery) (map[string]any, []outbox.DomainEvent, *orders.TransitionInput, error) {
			if d.Status != enums.DeliveryStatusDelayed {
				return nil, nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only delayed deliveries can resume").
					WithCurrentStatus(d.Status.String())
			}
			updates := map[string]any{
				"status":       enums.DeliveryStatusInTransit,
				"issue_reason": nil,
			}
			return updates, nil, nil, nil
		},
	})
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Delivery, error) {
	return s.mutate(ctx, mutation{
		deliveryID:     input.DeliveryID,
		idempotencyKey: input.IdempotencyKey,
		actor:          input.Actor,
		target:         enums.DeliveryStatusCanceled,
		notes:          input.Reason,
		build: func(d *models.Delivery) (map[string]any, []outbox.DomainEvent, *orders.TransitionInput, error) {
			updates := map[string]any{"status": enums.DeliveryStatusCanceled}
			return updates, nil, nil, nil
		},
	})
}

// CancelForOrderTx cancels the active delivery for an order, if one exists,
// inside the caller's transaction. The order machine invokes it when an
// order is canceled so the delivery cannot be started afterwards.
func (s *service) CancelForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor string) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	delivery, err := s.repo.WithTx(tx).FindActiveDeliveryByOrder(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find active delivery")
	}

	reason := "order canceled"
	_, err = s.applyMutation(ctx, tx, mutation{
		deliveryID: delivery.ID,
		actor:      actor,
		target:     enums.DeliveryStatusCanceled,
		notes:      &reason,
		build: func(d *models.Delivery) (map[string]any, []outbox.DomainEvent, *orders.TransitionInput, error) {
			updates := map[string]any{"status": enums.DeliveryStatusCanceled}
			return updates, nil, nil, nil
		},
	})
	return err
}

// mutation describes one guarded delivery transition.
type mutation struct {
	deliveryID     uuid.UUID
	idempotencyKey string
	actor          string
	target         enums.DeliveryStatus
	notes          *string
	// allowSame permits target == current (driver reassignment)
	allowSame bool
	build     func(d *models.Delivery) (map[string]any, []outbox.DomainEvent, *orders.TransitionInput, error)
}

// mutate is the shared transition core: idempotency replay, transition table
// check, status_version guard with a bounded retry loop, history append,
// order cascade and event emission all commit or roll back together.
func (s *service) mutate(ctx context.Context, m mutation) (*models.Delivery, error) {
	if m.deliveryID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id required")
	}

	var result *models.Delivery
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 && s.cfg.RetryBackoff > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.cfg.RetryBackoff):
			}
		}

		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			delivery, err := s.applyMutation(ctx, tx, m)
			if err != nil {
				return err
			}
			result = delivery
			return nil
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeConflict {
			if s.logg != nil {
				logCtx := s.logg.WithDeliveryID(ctx, m.deliveryID.String())
				s.logg.Warn(logCtx, "delivery transition lost version race, retrying")
			}
			continue
		}
		return nil, err
	}
	return nil, s.withCurrentStatus(ctx, m.deliveryID, lastErr)
}

// withCurrentStatus decorates the final Conflict with the status that won,
// so the caller can resynchronize without another fetch.
func (s *service) withCurrentStatus(ctx context.Context, deliveryID uuid.UUID, lastErr error) error {
	typed := pkgerrors.As(lastErr)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		return lastErr
	}
	delivery, err := s.repo.FindDelivery(ctx, deliveryID)
	if err != nil {
		return lastErr
	}
	return typed.WithCurrentStatus(delivery.Status.String())
}

func (s *service) applyMutation(ctx context.Context, tx *gorm.DB, m mutation) (*models.Delivery, error) {
	repo := s.repo.WithTx(tx)

	delivery, err := repo.FindDelivery(ctx, m.deliveryID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery")
	}

	if m.idempotencyKey != "" {
		entry, err := repo.FindHistoryByIdempotencyKey(ctx, m.deliveryID, m.idempotencyKey)
		if err != nil && err != gorm.ErrRecordNotFound {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency key")
		}
		if entry != nil {
			if entry.ToStatus == m.target {
				// replay of an applied request; no second increment
				return delivery, nil
			}
			return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different operation").
				WithDetails(map[string]any{"recorded_status": entry.ToStatus})
		}
	}

	sameStatus := delivery.Status == m.target
	if sameStatus && !m.allowSame {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "delivery already in target status").
			WithCurrentStatus(delivery.Status.String())
	}
	if !sameStatus && !delivery.Status.CanTransitionTo(m.target) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "delivery transition disallowed").
			WithCurrentStatus(delivery.Status.String())
	}

	updates, extraEvents, cascade, err := m.build(delivery)
	if err != nil {
		return nil, err
	}

	affected, err := repo.UpdateGuarded(ctx, delivery.ID, delivery.StatusVersion, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update delivery")
	}
	if affected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "delivery changed concurrently")
	}

	var key *string
	if m.idempotencyKey != "" {
		k := m.idempotencyKey
		key = &k
	}
	entry := &models.DeliveryHistory{
		DeliveryID:     delivery.ID,
		FromStatus:     delivery.Status,
		ToStatus:       m.target,
		Actor:          m.actor,
		Notes:          m.notes,
		IdempotencyKey: key,
	}
	if err := repo.AppendHistory(ctx, entry); err != nil {
		if db.IsUniqueViolation(err, "ux_delivery_history_idem") {
			// a concurrent request with the same key won; retry resolves
			// it as a replay
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "idempotency key raced")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append delivery history")
	}

	if cascade != nil {
		if _, err := s.ordersG.TransitionTx(ctx, tx, *cascade); err != nil {
			return nil, err
		}
	}

	statusEvent := outbox.DomainEvent{
		EventType:     enums.EventDeliveryStatusChanged,
		AggregateType: enums.AggregateDelivery,
		AggregateID:   delivery.ID,
		Version:       1,
		Data: payloads.DeliveryStatusChangedEvent{
			DeliveryID:    delivery.ID,
			OrderID:       delivery.OrderID,
			DriverID:      delivery.DriverID,
			OldStatus:     delivery.Status.String(),
			NewStatus:     m.target.String(),
			StatusVersion: delivery.StatusVersion + 1,
			IssueReason:   deref(m.notes),
			Actor:         m.actor,
			ChangedAt:     time.Now().UTC(),
		},
	}
	if err := s.outbox.Emit(ctx, tx, statusEvent); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit delivery event")
	}
	for _, event := range extraEvents {
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit delivery event")
		}
	}

	delivery.Status = m.target
	delivery.StatusVersion++
	return delivery, nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
