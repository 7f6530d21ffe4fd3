package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
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

// Line is one product/quantity pair in a reservation request.
type Line struct {
	ProductID uuid.UUID
	Qty       int
}

// Shortage describes one product that blocked an all-or-nothing reservation.
type Shortage struct {
	ProductID uuid.UUID `json:"product_id"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

// CommitMovementInput carries a manual stock movement request.
type CommitMovementInput struct {
	ProductID uuid.UUID
	Type      enums.StockMovementType
	Quantity  int
	Reason    string
	Actor     string
}

// Service defines inventory operations. Reserve, Release and Consume run
// inside a caller-owned transaction so order transitions stay atomic with
// their stock effects.
type Service interface {
	Reserve(ctx context.Context, tx *gorm.DB, lines []Line) error
	Release(ctx context.Context, tx *gorm.DB, lines []Line) error
	Consume(ctx context.Context, tx *gorm.DB, lines []Line, actor string) error
	CommitMovement(ctx context.Context, input CommitMovementInput) (*models.StockMovement, error)
	GetStock(ctx context.Context, productID uuid.UUID) (*models.StockItem, error)
	ListStock(ctx context.Context, params pagination.Params) (*StockList, error)
	ListMovements(ctx context.Context, productID uuid.UUID, params pagination.Params) (*MovementList, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
}

// NewService builds an inventory service with the required dependencies.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, outbox: outbox}, nil
}

// Reserve holds stock for every line or none of them. Rows are locked in
// product-id order to keep concurrent reservations deadlock free.
func (s *service) Reserve(ctx context.Context, tx *gorm.DB, lines []Line) error {
	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for reservation")
	}

	repo := s.repo.WithTx(tx)
	items, err := repo.FindForUpdate(ctx, productIDs(merged))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock stock rows")
	}
	byProduct := indexStock(items)

	shortages := []Shortage{}
	for _, line := range merged {
		item, ok := byProduct[line.ProductID]
		available := 0
		if ok {
			available = item.Available()
		}
		if available < line.Qty {
			shortages = append(shortages, Shortage{
				ProductID: line.ProductID,
				Requested: line.Qty,
				Available: available,
			})
		}
	}
	if len(shortages) > 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock for reservation").
			WithDetails(map[string]any{"items": shortages})
	}

	for _, line := range merged {
		item := byProduct[line.ProductID]
		before := item.Available()
		updates := map[string]any{
			"reserved": gorm.Expr("reserved + ?", line.Qty),
		}
		if err := repo.UpdateCounters(ctx, line.ProductID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply reservation")
		}
		after := before - line.Qty
		if err := s.maybeEmitReorderAlert(ctx, tx, item, before, after, item.OnHand); err != nil {
			return err
		}
	}
	return nil
}

// Release returns held stock. The caller must release exactly what it
// reserved; anything else indicates a bookkeeping bug.
func (s *service) Release(ctx context.Context, tx *gorm.DB, lines []Line) error {
	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for release")
	}

	repo := s.repo.WithTx(tx)
	items, err := repo.FindForUpdate(ctx, productIDs(merged))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock stock rows")
	}
	byProduct := indexStock(items)

	for _, line := range merged {
		item, ok := byProduct[line.ProductID]
		if !ok || item.Reserved < line.Qty {
			return pkgerrors.New(pkgerrors.CodeInternal, "reservation underflow on release").
				WithDetails(map[string]any{"product_id": line.ProductID})
		}
	}
	for _, line := range merged {
		updates := map[string]any{
			"reserved": gorm.Expr("reserved - ?", line.Qty),
		}
		if err := repo.UpdateCounters(ctx, line.ProductID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply release")
		}
	}
	return nil
}

// Consume converts held stock into OUT ledger entries when an order is
// delivered.
func (s *service) Consume(ctx context.Context, tx *gorm.DB, lines []Line, actor string) error {
	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for consume")
	}

	repo := s.repo.WithTx(tx)
	items, err := repo.FindForUpdate(ctx, productIDs(merged))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock stock rows")
	}
	byProduct := indexStock(items)

	for _, line := range merged {
		item, ok := byProduct[line.ProductID]
		if !ok || item.Reserved < line.Qty || item.OnHand < line.Qty {
			return pkgerrors.New(pkgerrors.CodeInternal, "reservation underflow on consume").
				WithDetails(map[string]any{"product_id": line.ProductID})
		}
	}
	for _, line := range merged {
		item := byProduct[line.ProductID]
		resulting := item.OnHand - line.Qty
		updates := map[string]any{
			"on_hand":  gorm.Expr("on_hand - ?", line.Qty),
			"reserved": gorm.Expr("reserved - ?", line.Qty),
		}
		if err := repo.UpdateCounters(ctx, line.ProductID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply consume")
		}
		movement := &models.StockMovement{
			ProductID:       line.ProductID,
			Type:            enums.StockMovementOut,
			Quantity:        line.Qty,
			Reason:          "order delivered",
			ResultingOnHand: resulting,
		}
		if err := repo.CreateMovement(ctx, movement); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append stock ledger")
		}
		// available is unchanged here (on_hand and reserved both drop),
		// so no reorder alert is emitted from consume.
	}
	return nil
}

func (s *service) CommitMovement(ctx context.Context, input CommitMovementInput) (*models.StockMovement, error) {
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "movement type must be IN, OUT or ADJUST")
	}
	switch input.Type {
	case enums.StockMovementIn, enums.StockMovementOut:
		if input.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
	case enums.StockMovementAdjust:
		// an adjustment carries the counted on-hand, not a delta
		if input.Quantity < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjusted on-hand cannot be negative")
		}
	}

	var movement *models.StockMovement
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		items, err := repo.FindForUpdate(ctx, []uuid.UUID{input.ProductID})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock stock row")
		}

		var item models.StockItem
		if len(items) == 0 {
			if input.Type != enums.StockMovementIn {
				return pkgerrors.New(pkgerrors.CodeNotFound, "stock item not found")
			}
			item = models.StockItem{ProductID: input.ProductID}
			if err := repo.CreateStockItem(ctx, &item); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stock item")
			}
		} else {
			item = items[0]
		}

		delta := input.Quantity
		switch input.Type {
		case enums.StockMovementOut:
			delta = -input.Quantity
		case enums.StockMovementAdjust:
			// ADJUST sets on_hand to the counted value; the ledger row
			// records the signed difference so replay still reconciles
			delta = input.Quantity - item.OnHand
		}
		resulting := item.OnHand + delta
		if resulting < 0 {
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, "movement would drive stock negative").
				WithDetails(map[string]any{"on_hand": item.OnHand, "delta": delta})
		}
		if resulting < item.Reserved {
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, "movement would break active reservations").
				WithDetails(map[string]any{"reserved": item.Reserved, "resulting_on_hand": resulting})
		}

		updates := map[string]any{"on_hand": resulting}
		if err := repo.UpdateCounters(ctx, input.ProductID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply movement")
		}

		quantity := input.Quantity
		if input.Type == enums.StockMovementAdjust {
			quantity = delta
		}
		movement = &models.StockMovement{
			ProductID:       input.ProductID,
			Type:            input.Type,
			Quantity:        quantity,
			Reason:          input.Reason,
			ResultingOnHand: resulting,
		}
		if err := repo.CreateMovement(ctx, movement); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append stock ledger")
		}

		before := item.Available()
		after := resulting - item.Reserved
		return s.maybeEmitReorderAlert(ctx, tx, item, before, after, resulting)
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

func (s *service) GetStock(ctx context.Context, productID uuid.UUID) (*models.StockItem, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	item, err := s.repo.FindStockItem(ctx, productID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stock item not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock item")
	}
	return item, nil
}

func (s *service) ListStock(ctx context.Context, params pagination.Params) (*StockList, error) {
	list, err := s.repo.ListStockItems(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock items")
	}
	return list, nil
}

func (s *service) ListMovements(ctx context.Context, productID uuid.UUID, params pagination.Params) (*MovementList, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	list, err := s.repo.ListMovements(ctx, productID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock movements")
	}
	return list, nil
}

// maybeEmitReorderAlert fires only on the crossing, not on every mutation
// below the threshold.
func (s *service) maybeEmitReorderAlert(ctx context.Context, tx *gorm.DB, item models.StockItem, availableBefore, availableAfter, onHandAfter int) error {
	if availableAfter > item.ReorderPoint || availableBefore <= item.ReorderPoint {
		return nil
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventStockBelowReorder,
		AggregateType: enums.AggregateStockItem,
		AggregateID:   item.ProductID,
		Version:       1,
		Data: payloads.StockBelowReorderEvent{
			ProductID:    item.ProductID.String(),
			OnHand:       int64(onHandAfter),
			Reserved:     int64(onHandAfter - availableAfter),
			Available:    int64(availableAfter),
			ReorderPoint: int64(item.ReorderPoint),
			ObservedAt:   time.Now().UTC(),
		},
	}
	return s.outbox.Emit(ctx, tx, event)
}

func mergeLines(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line required")
	}
	byProduct := map[uuid.UUID]int{}
	for _, line := range lines {
		if line.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if line.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
		byProduct[line.ProductID] += line.Qty
	}
	merged := make([]Line, 0, len(byProduct))
	for id, qty := range byProduct {
		merged = append(merged, Line{ProductID: id, Qty: qty})
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].ProductID.String() < merged[j].ProductID.String()
	})
	return merged, nil
}

func productIDs(lines []Line) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}

func indexStock(items []models.StockItem) map[uuid.UUID]models.StockItem {
	byProduct := make(map[uuid.UUID]models.StockItem, len(items))
	for _, item := range items {
		byProduct[item.ProductID] = item
	}
	return byProduct
}
