package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/internal/inventory"
	"github.com/angelmondragon/dispatch-backend/pkg/config"
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

// StockController covers the reservation lifecycle the order machine drives.
type StockController interface {
	Reserve(ctx context.Context, tx *gorm.DB, lines []inventory.Line) error
	Release(ctx context.Context, tx *gorm.DB, lines []inventory.Line) error
	Consume(ctx context.Context, tx *gorm.DB, lines []inventory.Line, actor string) error
}

// DeliveryCascader cancels the active delivery when its order is canceled.
// Wired after construction because the delivery machine depends on the
// order machine in turn.
type DeliveryCascader interface {
	CancelForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor string) error
}

// Service defines order lifecycle operations.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	List(ctx context.Context, params pagination.Params, filters OrderFilters) (*OrderList, error)
	Transition(ctx context.Context, input TransitionInput) (*models.Order, error)
	AttachDeliveryCascader(cascader DeliveryCascader)
	// TransitionTx runs a transition inside a caller-owned transaction with
	// no retry loop. The delivery machine uses it to cascade order status.
	TransitionTx(ctx context.Context, tx *gorm.DB, input TransitionInput) (*models.Order, error)
	// GetTx reads an order inside a caller-owned transaction.
	GetTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
}

type service struct {
	repo       Repository
	tx         txRunner
	outbox     outboxPublisher
	stock      StockController
	deliveries DeliveryCascader
	logg       *logger.Logger
	cfg        config.TransitionConfig
}

// NewService builds an order service with the required dependencies.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, stock StockController, logg *logger.Logger, cfg config.TransitionConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock controller required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &service{
		repo:   repo,
		tx:     tx,
		outbox: outbox,
		stock:  stock,
		logg:   logg,
		cfg:    cfg,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if strings.TrimSpace(input.CustomerName) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer name required")
	}
	if strings.TrimSpace(input.AddressLine1) == "" || strings.TrimSpace(input.City) == "" || strings.TrimSpace(input.PostalCode) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery address required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item required")
	}
	for _, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item product id required")
		}
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be positive")
		}
		if item.UnitPriceCents < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item unit price cannot be negative")
		}
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		number, err := repo.NextOrderNumber(ctx)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocate order number")
		}

		items := make([]models.OrderItem, 0, len(input.Items))
		total := decimal.Zero
		for _, item := range input.Items {
			items = append(items, models.OrderItem{
				ProductID:      item.ProductID,
				Qty:            item.Qty,
				UnitPriceCents: item.UnitPriceCents,
			})
			line := decimal.NewFromInt(item.UnitPriceCents).Mul(decimal.NewFromInt(int64(item.Qty)))
			total = total.Add(line)
		}

		order = &models.Order{
			CustomerID:   input.CustomerID,
			OrderNumber:  number,
			CustomerName: strings.TrimSpace(input.CustomerName),
			Status:       enums.OrderStatusPending,
			TotalCents:   total.IntPart(),
			AddressLine1: strings.TrimSpace(input.AddressLine1),
			AddressLine2: input.AddressLine2,
			City:         strings.TrimSpace(input.City),
			PostalCode:   strings.TrimSpace(input.PostalCode),
			Items:        items,
		}
		if err := repo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindOrderDetail(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) List(ctx context.Context, params pagination.Params, filters OrderFilters) (*OrderList, error) {
	if filters.Status != nil && !filters.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	list, err := s.repo.ListOrders(ctx, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return list, nil
}

// AttachDeliveryCascader wires the delivery cancel cascade after both
// services exist.
func (s *service) AttachDeliveryCascader(cascader DeliveryCascader) {
	s.deliveries = cascader
}

// Transition retries version races internally; callers only ever see a
// Conflict after the budget is exhausted. DELIVERED is reserved for the
// delivery completion cascade and is rejected here.
func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.Order, error) {
	if input.Target == enums.OrderStatusDelivered {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "orders are delivered by completing their delivery, not by direct transition")
	}

	var result *models.Order
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
			order, err := s.TransitionTx(ctx, tx, input)
			if err != nil {
				return err
			}
			result = order
			return nil
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeConflict {
			if s.logg != nil {
				logCtx := s.logg.WithOrderID(ctx, input.OrderID.String())
				s.logg.Warn(logCtx, "order transition lost version race, retrying")
			}
			continue
		}
		return nil, err
	}
	return nil, s.withCurrentStatus(ctx, input.OrderID, lastErr)
}

// withCurrentStatus decorates the final Conflict with the status that won,
// so the caller can resynchronize without another fetch.
func (s *service) withCurrentStatus(ctx context.Context, orderID uuid.UUID, lastErr error) error {
	typed := pkgerrors.As(lastErr)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		return lastErr
	}
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		return lastErr
	}
	return typed.WithCurrentStatus(order.Status.String())
}

func (s *service) GetTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.WithTx(tx).FindOrder(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) TransitionTx(ctx context.Context, tx *gorm.DB, input TransitionInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid target status")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for transition")
	}

	repo := s.repo.WithTx(tx)
	order, err := repo.FindOrder(ctx, input.OrderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	if order.Status == input.Target {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order already in target status").
			WithCurrentStatus(order.Status.String())
	}
	if !order.Status.CanTransitionTo(input.Target) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order transition disallowed").
			WithCurrentStatus(order.Status.String())
	}

	lines := stockLines(order.Items)
	switch input.Target {
	case enums.OrderStatusConfirmed:
		if err := s.stock.Reserve(ctx, tx, lines); err != nil {
			return nil, err
		}
	case enums.OrderStatusCanceled:
		if order.Status.HoldsReservation() {
			if err := s.stock.Release(ctx, tx, lines); err != nil {
				return nil, err
			}
		}
		// a dead order takes its active delivery with it
		if s.deliveries != nil {
			if err := s.deliveries.CancelForOrderTx(ctx, tx, order.ID, input.Actor); err != nil {
				return nil, err
			}
		}
	case enums.OrderStatusDelivered:
		if err := s.stock.Consume(ctx, tx, lines, input.Actor); err != nil {
			return nil, err
		}
	}

	updates := map[string]any{"status": input.Target}
	affected, err := repo.UpdateStatusGuarded(ctx, order.ID, order.Version, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if affected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently")
	}

	entry := &models.OrderHistory{
		OrderID:    order.ID,
		FromStatus: order.Status,
		ToStatus:   input.Target,
		Actor:      input.Actor,
		Notes:      input.Notes,
	}
	if err := repo.AppendHistory(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append order history")
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:     order.ID,
			OrderNumber: fmt.Sprintf("%d", order.OrderNumber),
			OldStatus:   order.Status.String(),
			NewStatus:   input.Target.String(),
			Actor:       input.Actor,
			ChangedAt:   time.Now().UTC(),
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order event")
	}

	order.Status = input.Target
	order.Version++
	return order, nil
}

func stockLines(items []models.OrderItem) []inventory.Line {
	lines := make([]inventory.Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, inventory.Line{ProductID: item.ProductID, Qty: item.Qty})
	}
	return lines
}
