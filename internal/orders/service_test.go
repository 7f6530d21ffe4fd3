package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/dispatch-backend/internal/inventory"
	"github.com/angelmondragon/dispatch-backend/pkg/config"
	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
	"github.com/angelmondragon/dispatch-backend/pkg/outbox"
	"github.com/angelmondragon/dispatch-backend/pkg/pagination"
)

type stubOrdersRepo struct {
	order        *models.Order
	history      []models.OrderHistory
	nextNumber   int64
	failUpdates  int
	updatesSeen  []map[string]any
	createdOrder *models.Order
}

func (s *stubOrdersRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubOrdersRepo) Create(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	s.createdOrder = order
	return nil
}

func (s *stubOrdersRepo) NextOrderNumber(ctx context.Context) (int64, error) {
	if s.nextNumber == 0 {
		s.nextNumber = 1001
	}
	return s.nextNumber, nil
}

func (s *stubOrdersRepo) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if s.order == nil || s.order.ID != orderID {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *s.order
	return &copied, nil
}

func (s *stubOrdersRepo) FindOrderDetail(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.FindOrder(ctx, orderID)
}

func (s *stubOrdersRepo) UpdateStatusGuarded(ctx context.Context, orderID uuid.UUID, expectedVersion int64, updates map[string]any) (int64, error) {
	s.updatesSeen = append(s.updatesSeen, updates)
	if s.failUpdates > 0 {
		s.failUpdates--
		return 0, nil
	}
	if s.order == nil || s.order.Version != expectedVersion {
		return 0, nil
	}
	if status, ok := updates["status"].(enums.OrderStatus); ok {
		s.order.Status = status
	}
	s.order.Version++
	return 1, nil
}

func (s *stubOrdersRepo) AppendHistory(ctx context.Context, entry *models.OrderHistory) error {
	s.history = append(s.history, *entry)
	return nil
}

func (s *stubOrdersRepo) ListOrders(ctx context.Context, params pagination.Params, filters OrderFilters) (*OrderList, error) {
	list := &OrderList{}
	if s.order != nil {
		list.Orders = []models.Order{*s.order}
	}
	return list, nil
}

func (s *stubOrdersRepo) ArchiveDeliveredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type stubOutbox struct {
	events []outbox.DomainEvent
}

func (s *stubOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

type stubStock struct {
	reserved []inventory.Line
	released []inventory.Line
	consumed []inventory.Line
	fail     error
}

func (s *stubStock) Reserve(ctx context.Context, tx *gorm.DB, lines []inventory.Line) error {
	if s.fail != nil {
		return s.fail
	}
	s.reserved = append(s.reserved, lines...)
	return nil
}

func (s *stubStock) Release(ctx context.Context, tx *gorm.DB, lines []inventory.Line) error {
	s.released = append(s.released, lines...)
	return nil
}

func (s *stubStock) Consume(ctx context.Context, tx *gorm.DB, lines []inventory.Line, actor string) error {
	s.consumed = append(s.consumed, lines...)
	return nil
}

func newTestOrder(status enums.OrderStatus) *models.Order {
	return &models.Order{
		ID:           uuid.New(),
		CustomerID:   uuid.New(),
		OrderNumber:  1001,
		CustomerName: "Maribel Ortiz",
		Status:       status,
		Items: []models.OrderItem{
			{ID: uuid.New(), ProductID: uuid.New(), Qty: 2, UnitPriceCents: 1250},
		},
	}
}

func newOrdersService(t *testing.T, repo Repository, stock StockController) (Service, *stubOutbox) {
	t.Helper()
	ob := &stubOutbox{}
	svc, err := NewService(repo, stubTxRunner{}, ob, stock, nil, config.TransitionConfig{MaxAttempts: 3})
	require.NoError(t, err)
	return svc, ob
}

func TestCreateOrderComputesTotal(t *testing.T) {
	repo := &stubOrdersRepo{}
	svc, _ := newOrdersService(t, repo, &stubStock{})

	order, err := svc.Create(context.Background(), CreateOrderInput{
		CustomerID:   uuid.New(),
		CustomerName: "Maribel Ortiz",
		AddressLine1: "12 Harbor Way",
		City:         "Portsmouth",
		PostalCode:   "PO1 2AB",
		Items: []CreateItemInput{
			{ProductID: uuid.New(), Qty: 2, UnitPriceCents: 1250},
			{ProductID: uuid.New(), Qty: 1, UnitPriceCents: 500},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, int64(3000), order.TotalCents)
	assert.Equal(t, int64(1001), order.OrderNumber)
}

func TestCreateOrderValidation(t *testing.T) {
	repo := &stubOrdersRepo{}
	svc, _ := newOrdersService(t, repo, &stubStock{})

	_, err := svc.Create(context.Background(), CreateOrderInput{
		CustomerID:   uuid.New(),
		CustomerName: "Maribel Ortiz",
		AddressLine1: "12 Harbor Way",
		City:         "Portsmouth",
		PostalCode:   "PO1 2AB",
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())

	_, err = svc.Create(context.Background(), CreateOrderInput{
		CustomerID:   uuid.New(),
		CustomerName: "Maribel Ortiz",
		AddressLine1: "12 Harbor Way",
		City:         "Portsmouth",
		PostalCode:   "PO1 2AB",
		Items:        []CreateItemInput{{ProductID: uuid.New(), Qty: 0}},
	})
	require.Error(t, err)
}

func TestTransitionConfirmReservesStock(t *testing.T) {
	order := newTestOrder(enums.OrderStatusPending)
	repo := &stubOrdersRepo{order: order}
	stock := &stubStock{}
	svc, ob := newOrdersService(t, repo, stock)

	updated, err := svc.Transition(context.Background(), TransitionInput{
		OrderID: order.ID,
		Target:  enums.OrderStatusConfirmed,
		Actor:   "staff-1",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, updated.Status)

	require.Len(t, stock.reserved, 1)
	assert.Equal(t, 2, stock.reserved[0].Qty)

	require.Len(t, repo.history, 1)
	assert.Equal(t, enums.OrderStatusPending, repo.history[0].FromStatus)
	assert.Equal(t, enums.OrderStatusConfirmed, repo.history[0].ToStatus)
	assert.Equal(t, "staff-1", repo.history[0].Actor)

	require.Len(t, ob.events, 1)
	assert.Equal(t, enums.EventOrderStatusChanged, ob.events[0].EventType)
}

func TestTransitionReservationFailureAborts(t *testing.T) {
	order := newTestOrder(enums.OrderStatusPending)
	repo := &stubOrdersRepo{order: order}
	stock := &stubStock{fail: pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock")}
	svc, ob := newOrdersService(t, repo, stock)

	_, err := svc.Transition(context.Background(), TransitionInput{
		OrderID: order.ID,
		Target:  enums.OrderStatusConfirmed,
		Actor:   "staff-1",
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())
	assert.Empty(t, repo.history)
	assert.Empty(t, ob.events)
}

func TestTransitionDisallowedReportsCurrentStatus(t *testing.T) {
	order := newTestOrder(enums.OrderStatusPending)
	repo := &stubOrdersRepo{order: order}
	svc, _ := newOrdersService(t, repo, &stubStock{})

	_, err := svc.Transition(context.Background(), TransitionInput{
		OrderID: order.ID,
		Target:  enums.OrderStatusPreparing,
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())

	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "PENDING", details["current_status"])
}

func TestTransitionRejectsDirectDelivered(t *testing.T) {
	order := newTestOrder(enums.OrderStatusOutForDelivery)
	repo := &stubOrdersRepo{order: order}
	stock := &stubStock{}
	svc, _ := newOrdersService(t, repo, stock)

	_, err := svc.Transition(context.Background(), TransitionInput{
		OrderID: order.ID,
		Target:  enums.OrderStatusDelivered,
		Actor:   "staff-2",
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())

	// nothing happened: no consume, no status change, no history
	assert.Empty(t, stock.consumed)
	assert.Equal(t, enums.OrderStatusOutForDelivery, repo.order.Status)
	assert.Empty(t, repo.history)
}

func TestTransitionTerminalRejected(t *testing.T) {
	order := newTestOrder(enums.OrderStatusDelivered)
	repo := &stubOrdersRepo{order: order}
	svc, _ := newOrdersService(t, repo, &stubStock{})

	_, err := svc.Transition(context.Background(), TransitionInput{
		OrderID: order.ID,
		Target:  enums.OrderStatusCanceled,
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestCancelReleasesOnlyHeldReservations(t *testing.T) {
	t.Run("cancel from pending holds nothing", func(t *testing.T) {
		order := newTestOrder(enums.OrderStatusPending)
		repo := &stubOrdersRepo{order: order}
		stock := &stubStock{}
		svc, _ := newOrdersService(t, repo, stock)

		_, err := svc.Transition(context.Background(), TransitionInput{
			OrderID: order.ID,
			Target:  enums.OrderStatusCanceled,
		})
		require.NoError(t, err)
		assert.Empty(t, stock.released)
	})

	t.Run("cancel from preparing releases", func(t *testing.T) {
		order := newTestOrder(enums.OrderStatusPreparing)
		repo := &stubOrdersRepo{order: order}
		stock := &stubStock{}
		svc, _ := newOrdersService(t, repo, stock)

		_, err := svc.Transition(context.Background(), TransitionInput{
			OrderID: order.ID,
			Target:  enums.OrderStatusCanceled,
		})
		require.NoError(t, err)
		require.Len(t, stock.released, 1)
	})
}

func TestDeliveredConsumesReservation(t *testing.T) {
	order := newTestOrder(enums.OrderStatusOutForDelivery)
	repo := &stubOrdersRepo{order: order}
	stock := &stubStock{}
	svc, _ := newOrdersService(t, repo, stock)

	// the delivery machine enters DELIVERED through the tx entrypoint
	_, err := svc.TransitionTx(context.Background(), &gorm.DB{}, TransitionInput{
		OrderID: order.ID,
		Target:  enums.OrderStatusDelivered,
		Actor:   "driver-3",
	})
	require.NoError(t, err)
	require.Len(t, stock.consumed, 1)
}

func TestTransitionRetriesVersionRace(t *testing.T) {
	order := newTestOrder(enums.OrderStatusPending)
	repo := &stubOrdersRepo{order: order, failUpdates: 2}
	svc, _ := newOrdersService(t, repo, &stubStock{})

	updated, err := svc.Transition(context.Background(), TransitionInput{
		OrderID: order.ID,
		Target:  enums.OrderStatusConfirmed,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, updated.Status)
	assert.Len(t, repo.updatesSeen, 3)
}

func TestTransitionConflictAfterBudgetExhausted(t *testing.T) {
	order := newTestOrder(enums.OrderStatusPending)
	repo := &stubOrdersRepo{order: order, failUpdates: 10}
	svc, _ := newOrdersService(t, repo, &stubStock{})

	_, err := svc.Transition(context.Background(), TransitionInput{
		OrderID: order.ID,
		Target:  enums.OrderStatusConfirmed,
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())
	assert.Len(t, repo.updatesSeen, 3)

	// the surfaced Conflict reports the status that won the race
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "PENDING", details["current_status"])
}

type stubCascader struct {
	canceled []uuid.UUID
	actors   []string
}

func (s *stubCascader) CancelForOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor string) error {
	s.canceled = append(s.canceled, orderID)
	s.actors = append(s.actors, actor)
	return nil
}

func TestCancelCascadesToActiveDelivery(t *testing.T) {
	order := newTestOrder(enums.OrderStatusOutForDelivery)
	repo := &stubOrdersRepo{order: order}
	stock := &stubStock{}
	svc, _ := newOrdersService(t, repo, stock)

	cascader := &stubCascader{}
	svc.AttachDeliveryCascader(cascader)

	_, err := svc.Transition(context.Background(), TransitionInput{
		OrderID: order.ID,
		Target:  enums.OrderStatusCanceled,
		Actor:   "staff-4",
	})
	require.NoError(t, err)

	// reservation released and the in-flight delivery canceled with it
	require.Len(t, stock.released, 1)
	require.Len(t, cascader.canceled, 1)
	assert.Equal(t, order.ID, cascader.canceled[0])
	assert.Equal(t, "staff-4", cascader.actors[0])
}
