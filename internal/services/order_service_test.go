package services_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"storefront/internal/apperr"
	"storefront/internal/domain"
	"storefront/internal/repos"
	"storefront/internal/services"
)

var decimalEq = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func TestOrderCreate_SnapshotsPriceAndDecrementsStock(t *testing.T) {
	db := memdb(t)
	ctx := context.Background()
	alice := mkUser(t, db, "alice@storefront.test", false)
	cam := mkProduct(t, db, "Webcam 1080p", "9.99", 5)

	o, err := orderSvc(db).Create(ctx, alice, []domain.LineItem{{ProductID: cam.ID, Quantity: 2}})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderPending, o.Status)
	assert.Equal(t, "19.98", o.TotalAmount.StringFixed(2))
	assert.Equal(t, alice.ID, o.User.ID)
	require.Len(t, o.Items, 1)

	type line struct {
		Quantity int
		Price    decimal.Decimal
		Subtotal decimal.Decimal
	}
	got := line{o.Items[0].Quantity, o.Items[0].PriceAtPurchase, o.Items[0].Subtotal()}
	want := line{2, decimal.RequireFromString("9.99"), decimal.RequireFromString("19.98")}
	if diff := cmp.Diff(want, got, decimalEq); diff != "" {
		t.Fatalf("line item mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, stockOf(t, db, cam.ID))
}

func TestOrderCreate_MultipleLinesTotal(t *testing.T) {
	db := memdb(t)
	u := mkUser(t, db, "bob@storefront.test", false)
	kb := mkProduct(t, db, "Keyboard", "89.90", 10)
	hub := mkProduct(t, db, "Hub", "39.99", 10)

	o, err := orderSvc(db).Create(context.Background(), u, []domain.LineItem{
		{ProductID: kb.ID, Quantity: 1},
		{ProductID: hub.ID, Quantity: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "209.87", o.TotalAmount.StringFixed(2))

	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.Subtotal())
	}
	assert.True(t, sum.Equal(o.TotalAmount))
}

func TestOrderCreate_InsufficientStockRollsBack(t *testing.T) {
	db := memdb(t)
	u := mkUser(t, db, "alice@storefront.test", false)
	p := mkProduct(t, db, "Headphones", "199.00", 3)

	_, err := orderSvc(db).Create(context.Background(), u, []domain.LineItem{{ProductID: p.ID, Quantity: 10}})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInsufficientStock, apperr.CodeOf(err))
	assert.Equal(t, "Not enough stock for Headphones. Available: 3", err.Error())

	assert.Equal(t, 3, stockOf(t, db, p.ID))
	assert.Zero(t, count(t, db, "orders"))
	assert.Zero(t, count(t, db, "order_items"))
}

func TestOrderCreate_MissingLastProductLeavesNoTrace(t *testing.T) {
	db := memdb(t)
	u := mkUser(t, db, "alice@storefront.test", false)
	p := mkProduct(t, db, "Keyboard", "89.90", 4)

	_, err := orderSvc(db).Create(context.Background(), u, []domain.LineItem{
		{ProductID: p.ID, Quantity: 2},
		{ProductID: 9999, Quantity: 1},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	assert.Equal(t, "Product with id 9999 not found", err.Error())

	assert.Equal(t, 4, stockOf(t, db, p.ID), "first line's decrement must be undone")
	assert.Zero(t, count(t, db, "orders"))
	assert.Zero(t, count(t, db, "order_items"))
}

func TestOrderCreate_StorageFailureMidwayRollsBack(t *testing.T) {
	db := memdb(t)
	u := mkUser(t, db, "alice@storefront.test", false)
	a := mkProduct(t, db, "A", "1.00", 50)
	b := mkProduct(t, db, "B", "2.00", 50)
	_, err := db.Exec(`
	  CREATE TRIGGER fail_thirteen BEFORE INSERT ON order_items
	  WHEN NEW.quantity = 13
	  BEGIN SELECT RAISE(ABORT, 'disk on fire'); END`)
	require.NoError(t, err)

	_, err = orderSvc(db).Create(context.Background(), u, []domain.LineItem{
		{ProductID: a.ID, Quantity: 1},
		{ProductID: b.ID, Quantity: 13},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))
	assert.Equal(t, 50, stockOf(t, db, a.ID))
	assert.Equal(t, 50, stockOf(t, db, b.ID))
	assert.Zero(t, count(t, db, "orders"))
}

func TestOrderCreate_RejectsBadInput(t *testing.T) {
	db := memdb(t)
	u := mkUser(t, db, "alice@storefront.test", false)
	p := mkProduct(t, db, "A", "1.00", 5)
	svc := orderSvc(db)
	ctx := context.Background()

	_, err := svc.Create(ctx, u, nil)
	assert.ErrorIs(t, err, services.ErrEmptyOrder)

	_, err = svc.Create(ctx, u, []domain.LineItem{{ProductID: p.ID, Quantity: 0}})
	assert.ErrorIs(t, err, services.ErrBadQuantity)

	_, err = svc.Create(ctx, nil, []domain.LineItem{{ProductID: p.ID, Quantity: 1}})
	assert.Equal(t, apperr.CodeUnauthenticated, apperr.CodeOf(err))

	lines := make([]domain.LineItem, 101)
	for i := range lines {
		lines[i] = domain.LineItem{ProductID: p.ID, Quantity: 1}
	}
	_, err = svc.Create(ctx, u, lines)
	assert.ErrorIs(t, err, services.ErrTooManyLines)
	_, err = svc.Create(ctx, u, lines[:100])
	assert.True(t, apperr.HasCode(err, apperr.CodeInsufficientStock), "100 lines pass the cap and reach the stock check")

	assert.Equal(t, 5, stockOf(t, db, p.ID))
	assert.Zero(t, count(t, db, "orders"))
}

func TestOrderCreate_ExactStockDrainsToZero(t *testing.T) {
	db := memdb(t)
	u := mkUser(t, db, "alice@storefront.test", false)
	p := mkProduct(t, db, "Last ones", "5.00", 2)
	svc := orderSvc(db)

	_, err := svc.Create(context.Background(), u, []domain.LineItem{{ProductID: p.ID, Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, 0, stockOf(t, db, p.ID))

	_, err = svc.Create(context.Background(), u, []domain.LineItem{{ProductID: p.ID, Quantity: 1}})
	assert.Equal(t, "Not enough stock for Last ones. Available: 0", err.Error())
}

func TestOrderCreate_ConcurrentBuyersNeverOversell(t *testing.T) {
	assertNoOversell(t, filedb(t, ""))
}

func TestOrderCreate_ConcurrentBuyersWithCustomDSN(t *testing.T) {
	assertNoOversell(t, filedb(t, "?_pragma=journal_mode(WAL)"))
}

// assertNoOversell races 12 buyers for 5 units; every buyer either gets one
// or is told the stock ran out.
func assertNoOversell(t *testing.T, db *sqlx.DB) {
	t.Helper()
	p := mkProduct(t, db, "Limited", "10.00", 5)
	svc := orderSvc(db)

	const buyers = 12
	users := make([]*domain.User, buyers)
	for i := range users {
		users[i] = mkUser(t, db, "buyer"+string(rune('a'+i))+"@storefront.test", false)
	}

	var ok, short atomic.Int32
	var g errgroup.Group
	for _, u := range users {
		g.Go(func() error {
			_, err := svc.Create(context.Background(), u, []domain.LineItem{{ProductID: p.ID, Quantity: 1}})
			switch {
			case err == nil:
				ok.Add(1)
			case apperr.HasCode(err, apperr.CodeInsufficientStock):
				short.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 5, ok.Load())
	assert.EqualValues(t, buyers-5, short.Load())
	assert.Equal(t, 0, stockOf(t, db, p.ID))
	assert.Equal(t, 5, count(t, db, "order_items"))
}

func TestOrder_PriceSnapshotSurvivesCatalogChanges(t *testing.T) {
	db := memdb(t)
	ctx := context.Background()
	u := mkUser(t, db, "alice@storefront.test", false)
	staff := mkUser(t, db, "admin@storefront.test", true)
	p := mkProduct(t, db, "Keyboard", "89.90", 5)
	svc := orderSvc(db)
	catalog := services.NewCatalogService(repos.NewProductRepo(db))

	o, err := svc.Create(ctx, u, []domain.LineItem{{ProductID: p.ID, Quantity: 1}})
	require.NoError(t, err)

	newPrice := decimal.RequireFromString("120.00")
	_, err = catalog.Update(ctx, staff, p.ID, services.ProductPatch{Price: &newPrice})
	require.NoError(t, err)

	again, err := svc.Get(ctx, u, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "89.90", again.Items[0].PriceAtPurchase.StringFixed(2))
	assert.Equal(t, "89.90", again.TotalAmount.StringFixed(2))

	require.NoError(t, catalog.Delete(ctx, staff, p.ID))
	again, err = svc.Get(ctx, u, o.ID)
	require.NoError(t, err)
	require.Len(t, again.Items, 1)
	assert.Nil(t, again.Items[0].Product)
	assert.Equal(t, "89.90", again.Items[0].PriceAtPurchase.StringFixed(2))
}

func TestOrder_ReadsAreOwnerScoped(t *testing.T) {
	db := memdb(t)
	ctx := context.Background()
	alice := mkUser(t, db, "alice@storefront.test", false)
	bob := mkUser(t, db, "bob@storefront.test", false)
	p := mkProduct(t, db, "A", "1.00", 10)
	svc := orderSvc(db)

	first, err := svc.Create(ctx, alice, []domain.LineItem{{ProductID: p.ID, Quantity: 1}})
	require.NoError(t, err)
	second, err := svc.Create(ctx, alice, []domain.LineItem{{ProductID: p.ID, Quantity: 2}})
	require.NoError(t, err)

	_, err = svc.Get(ctx, bob, first.ID)
	assert.ErrorIs(t, err, services.ErrOrderNotFound)
	_, err = svc.Get(ctx, alice, 424242)
	assert.ErrorIs(t, err, services.ErrOrderNotFound)

	mine, err := svc.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID, "newest first")

	theirs, err := svc.List(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, theirs)
	assert.NotNil(t, theirs)
}

func TestWithTx_CommitIsVisibleToOrderReads(t *testing.T) {
	db := memdb(t)
	ctx := context.Background()
	u := mkUser(t, db, "alice@storefront.test", false)
	p := mkProduct(t, db, "A", "3.50", 10)

	o, err := orderSvc(db).Create(ctx, u, []domain.LineItem{{ProductID: p.ID, Quantity: 3}})
	require.NoError(t, err)
	assert.Equal(t, 1, itemsOf(t, db, o.ID))
}
