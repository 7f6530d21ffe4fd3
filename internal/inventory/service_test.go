package inventory

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dispatch-backend/pkg/errors"
	"github.com/angelmondragon/dispatch-backend/pkg/outbox"
	"github.com/angelmondragon/dispatch-backend/pkg/pagination"
)

type stubInventoryRepo struct {
	items     map[uuid.UUID]*models.StockItem
	movements []models.StockMovement
	lockedIDs [][]uuid.UUID
}

func newStubInventoryRepo(items ...models.StockItem) *stubInventoryRepo {
	repo := &stubInventoryRepo{items: map[uuid.UUID]*models.StockItem{}}
	for i := range items {
		item := items[i]
		repo.items[item.ProductID] = &item
	}
	return repo
}

func (s *stubInventoryRepo) WithTx(tx *gorm.DB) Repository {
	return s
}

func (s *stubInventoryRepo) FindForUpdate(ctx context.Context, productIDs []uuid.UUID) ([]models.StockItem, error) {
	s.lockedIDs = append(s.lockedIDs, productIDs)
	found := []models.StockItem{}
	for _, id := range productIDs {
		if item, ok := s.items[id]; ok {
			found = append(found, *item)
		}
	}
	return found, nil
}

func (s *stubInventoryRepo) FindStockItem(ctx context.Context, productID uuid.UUID) (*models.StockItem, error) {
	item, ok := s.items[productID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *item
	return &copied, nil
}

func (s *stubInventoryRepo) CreateStockItem(ctx context.Context, item *models.StockItem) error {
	copied := *item
	s.items[item.ProductID] = &copied
	return nil
}

func (s *stubInventoryRepo) UpdateCounters(ctx context.Context, productID uuid.UUID, updates map[string]any) error {
	item, ok := s.items[productID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for column, value := range updates {
		switch column {
		case "on_hand":
			item.OnHand = applyCounterUpdate(item.OnHand, value)
		case "reserved":
			item.Reserved = applyCounterUpdate(item.Reserved, value)
		}
	}
	return nil
}

// applyCounterUpdate interprets either an absolute int or a
// gorm.Expr("col + ?", n) / gorm.Expr("col - ?", n) relative update.
func applyCounterUpdate(current int, value any) int {
	switch v := value.(type) {
	case int:
		return v
	case clause.Expr:
		delta := v.Vars[0].(int)
		if strings.Contains(v.SQL, "-") {
			return current - delta
		}
		return current + delta
	default:
		return current
	}
}

func (s *stubInventoryRepo) CreateMovement(ctx context.Context, movement *models.StockMovement) error {
	if movement.ID == uuid.Nil {
		movement.ID = uuid.New()
	}
	s.movements = append(s.movements, *movement)
	return nil
}

func (s *stubInventoryRepo) ListStockItems(ctx context.Context, params pagination.Params) (*StockList, error) {
	list := &StockList{}
	for _, item := range s.items {
		list.Items = append(list.Items, *item)
	}
	return list, nil
}

func (s *stubInventoryRepo) ListMovements(ctx context.Context, productID uuid.UUID, params pagination.Params) (*MovementList, error) {
	list := &MovementList{}
	for _, movement := range s.movements {
		if movement.ProductID == productID {
			list.Movements = append(list.Movements, movement)
		}
	}
	return list, nil
}

func (s *stubInventoryRepo) ListBelowReorderPoint(ctx context.Context) ([]models.StockItem, error) {
	items := []models.StockItem{}
	for _, item := range s.items {
		if item.Available() <= item.ReorderPoint {
			items = append(items, *item)
		}
	}
	return items, nil
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

func newInventoryService(t *testing.T, repo Repository) (*service, *stubOutbox) {
	t.Helper()
	ob := &stubOutbox{}
	svc, err := NewService(repo, stubTxRunner{}, ob)
	require.NoError(t, err)
	return svc.(*service), ob
}

func TestReserveAllOrNothing(t *testing.T) {
	productA := uuid.New()
	productB := uuid.New()
	repo := newStubInventoryRepo(
		models.StockItem{ProductID: productA, OnHand: 10, Reserved: 0},
		models.StockItem{ProductID: productB, OnHand: 2, Reserved: 0},
	)
	svc, _ := newInventoryService(t, repo)

	err := svc.Reserve(context.Background(), &gorm.DB{}, []Line{
		{ProductID: productA, Qty: 5},
		{ProductID: productB, Qty: 3},
	})
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())

	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	shortages := details["items"].([]Shortage)
	require.Len(t, shortages, 1)
	assert.Equal(t, productB, shortages[0].ProductID)
	assert.Equal(t, 3, shortages[0].Requested)
	assert.Equal(t, 2, shortages[0].Available)

	// nothing held for product A either
	assert.Equal(t, 0, repo.items[productA].Reserved)
	assert.Equal(t, 2, repo.items[productB].Available())
}

func TestReserveLocksInProductOrder(t *testing.T) {
	productA := uuid.New()
	productB := uuid.New()
	repo := newStubInventoryRepo(
		models.StockItem{ProductID: productA, OnHand: 10},
		models.StockItem{ProductID: productB, OnHand: 10},
	)
	svc, _ := newInventoryService(t, repo)

	err := svc.Reserve(context.Background(), &gorm.DB{}, []Line{
		{ProductID: productB, Qty: 1},
		{ProductID: productA, Qty: 1},
	})
	require.NoError(t, err)

	require.Len(t, repo.lockedIDs, 1)
	locked := repo.lockedIDs[0]
	require.Len(t, locked, 2)
	assert.True(t, locked[0].String() < locked[1].String(), "lock order must be stable")
}

func TestReserveMergesDuplicateLines(t *testing.T) {
	product := uuid.New()
	repo := newStubInventoryRepo(models.StockItem{ProductID: product, OnHand: 5})
	svc, _ := newInventoryService(t, repo)

	err := svc.Reserve(context.Background(), &gorm.DB{}, []Line{
		{ProductID: product, Qty: 3},
		{ProductID: product, Qty: 3},
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())
}

func TestReserveEmitsReorderAlertOnCrossing(t *testing.T) {
	product := uuid.New()
	repo := newStubInventoryRepo(models.StockItem{ProductID: product, OnHand: 10, ReorderPoint: 6})
	svc, ob := newInventoryService(t, repo)

	err := svc.Reserve(context.Background(), &gorm.DB{}, []Line{{ProductID: product, Qty: 5}})
	require.NoError(t, err)
	require.Len(t, ob.events, 1)
	assert.Equal(t, enums.EventStockBelowReorder, ob.events[0].EventType)

	// already below the threshold, no repeat alert
	err = svc.Reserve(context.Background(), &gorm.DB{}, []Line{{ProductID: product, Qty: 2}})
	require.NoError(t, err)
	assert.Len(t, ob.events, 1)
}

func TestReleaseUnderflowFails(t *testing.T) {
	product := uuid.New()
	repo := newStubInventoryRepo(models.StockItem{ProductID: product, OnHand: 10, Reserved: 1})
	svc, _ := newInventoryService(t, repo)

	err := svc.Release(context.Background(), &gorm.DB{}, []Line{{ProductID: product, Qty: 3}})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInternal, typed.Code())
}

func TestConsumeWritesLedgerAndKeepsAvailable(t *testing.T) {
	product := uuid.New()
	repo := newStubInventoryRepo(models.StockItem{ProductID: product, OnHand: 10, Reserved: 4})
	svc, ob := newInventoryService(t, repo)

	err := svc.Consume(context.Background(), &gorm.DB{}, []Line{{ProductID: product, Qty: 4}}, "driver-7")
	require.NoError(t, err)

	item := repo.items[product]
	assert.Equal(t, 6, item.OnHand)
	assert.Equal(t, 0, item.Reserved)

	require.Len(t, repo.movements, 1)
	movement := repo.movements[0]
	assert.Equal(t, enums.StockMovementOut, movement.Type)
	assert.Equal(t, 4, movement.Quantity)
	assert.Equal(t, 6, movement.ResultingOnHand)

	// available did not change, so no reorder alert
	assert.Empty(t, ob.events)
}

func TestCommitMovementRules(t *testing.T) {
	product := uuid.New()

	t.Run("in creates missing stock item", func(t *testing.T) {
		repo := newStubInventoryRepo()
		svc, _ := newInventoryService(t, repo)

		movement, err := svc.CommitMovement(context.Background(), CommitMovementInput{
			ProductID: product,
			Type:      enums.StockMovementIn,
			Quantity:  20,
			Reason:    "initial receiving",
		})
		require.NoError(t, err)
		assert.Equal(t, 20, movement.ResultingOnHand)
		assert.Equal(t, 20, repo.items[product].OnHand)
	})

	t.Run("out cannot break reservations", func(t *testing.T) {
		repo := newStubInventoryRepo(models.StockItem{ProductID: product, OnHand: 10, Reserved: 8})
		svc, _ := newInventoryService(t, repo)

		_, err := svc.CommitMovement(context.Background(), CommitMovementInput{
			ProductID: product,
			Type:      enums.StockMovementOut,
			Quantity:  5,
			Reason:    "damaged goods",
		})
		require.Error(t, err)
		typed := pkgerrors.As(err)
		require.NotNil(t, typed)
		assert.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())
		assert.Empty(t, repo.movements)
	})

	t.Run("adjust sets absolute on-hand and ledgers the delta", func(t *testing.T) {
		repo := newStubInventoryRepo(models.StockItem{ProductID: product, OnHand: 10})
		svc, _ := newInventoryService(t, repo)

		movement, err := svc.CommitMovement(context.Background(), CommitMovementInput{
			ProductID: product,
			Type:      enums.StockMovementAdjust,
			Quantity:  4,
			Reason:    "cycle count",
		})
		require.NoError(t, err)
		assert.Equal(t, 4, repo.items[product].OnHand)
		assert.Equal(t, -6, movement.Quantity)
		assert.Equal(t, 4, movement.ResultingOnHand)
	})

	t.Run("adjust to zero is legal", func(t *testing.T) {
		repo := newStubInventoryRepo(models.StockItem{ProductID: product, OnHand: 7})
		svc, _ := newInventoryService(t, repo)

		movement, err := svc.CommitMovement(context.Background(), CommitMovementInput{
			ProductID: product,
			Type:      enums.StockMovementAdjust,
			Quantity:  0,
			Reason:    "write-off",
		})
		require.NoError(t, err)
		assert.Equal(t, 0, repo.items[product].OnHand)
		assert.Equal(t, -7, movement.Quantity)
	})

	t.Run("adjust rejects a negative count", func(t *testing.T) {
		repo := newStubInventoryRepo(models.StockItem{ProductID: product, OnHand: 10})
		svc, _ := newInventoryService(t, repo)

		_, err := svc.CommitMovement(context.Background(), CommitMovementInput{
			ProductID: product,
			Type:      enums.StockMovementAdjust,
			Quantity:  -1,
		})
		require.Error(t, err)
		typed := pkgerrors.As(err)
		require.NotNil(t, typed)
		assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	})

	t.Run("adjust cannot break reservations", func(t *testing.T) {
		repo := newStubInventoryRepo(models.StockItem{ProductID: product, OnHand: 10, Reserved: 8})
		svc, _ := newInventoryService(t, repo)

		_, err := svc.CommitMovement(context.Background(), CommitMovementInput{
			ProductID: product,
			Type:      enums.StockMovementAdjust,
			Quantity:  5,
		})
		require.Error(t, err)
		typed := pkgerrors.As(err)
		require.NotNil(t, typed)
		assert.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())
		assert.Empty(t, repo.movements)
	})

	t.Run("out for unknown product is not found", func(t *testing.T) {
		repo := newStubInventoryRepo()
		svc, _ := newInventoryService(t, repo)

		_, err := svc.CommitMovement(context.Background(), CommitMovementInput{
			ProductID: uuid.New(),
			Type:      enums.StockMovementOut,
			Quantity:  1,
		})
		require.Error(t, err)
		typed := pkgerrors.As(err)
		require.NotNil(t, typed)
		assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
	})
}

// replayOnHand folds the ledger the way an auditor would: IN adds, OUT
// subtracts, ADJUST rows already carry the signed delta.
func replayOnHand(movements []models.StockMovement) int {
	total := 0
	for _, movement := range movements {
		switch movement.Type {
		case enums.StockMovementOut:
			total -= movement.Quantity
		default:
			total += movement.Quantity
		}
	}
	return total
}

func TestLedgerReplayMatchesOnHand(t *testing.T) {
	product := uuid.New()
	repo := newStubInventoryRepo()
	svc, _ := newInventoryService(t, repo)

	steps := []CommitMovementInput{
		{ProductID: product, Type: enums.StockMovementIn, Quantity: 10, Reason: "receiving"},
		{ProductID: product, Type: enums.StockMovementOut, Quantity: 3, Reason: "damaged goods"},
		{ProductID: product, Type: enums.StockMovementAdjust, Quantity: 4, Reason: "cycle count"},
		{ProductID: product, Type: enums.StockMovementIn, Quantity: 2, Reason: "receiving"},
	}
	for _, step := range steps {
		_, err := svc.CommitMovement(context.Background(), step)
		require.NoError(t, err)
	}

	require.Len(t, repo.movements, len(steps))
	assert.Equal(t, 6, repo.items[product].OnHand)
	assert.Equal(t, repo.items[product].OnHand, replayOnHand(repo.movements))

	// every row's resulting_on_hand is the replayed sum up to that row
	running := 0
	for i, movement := range repo.movements {
		running = replayOnHand(repo.movements[:i+1])
		assert.Equal(t, running, movement.ResultingOnHand)
	}
}
