package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSaleDeductsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", "10", "5", "12.50")
	f.openShift(t, 1, "0")

	sale, err := f.sales.CreateSale(ctx, cashier(1), takeAway(line(p.ID, "3")))
	require.NoError(t, err)

	assertDecimal(t, "7", f.quantity(t, p.ID))
	assertDecimal(t, "37.5", sale.Total)
	assert.Equal(t, models.KitchenPending, sale.KitchenStatus)
	assert.Regexp(t, `^RCP-\d{8}-0001$`, sale.ReceiptNumber)
	assert.Equal(t, int64(1), sale.OrderNumber)

	movements, err := f.store.MovementsByReference(ctx, models.RefSale, sale.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, models.MovementOut, movements[0].Type)
	assertDecimal(t, "3", movements[0].Quantity)
	assertDecimal(t, "7", movements[0].BalanceAfter)

	logs, err := f.kitchen.History(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.KitchenPending, logs[0].Status)

	require.Len(t, f.events.created, 1)
	assert.Equal(t, sale.ID, f.events.created[0].SaleID)
	assert.Empty(t, f.events.low, "7 is still above the reorder level")
}

func TestConcurrentSalesCannotOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", "2", "0", "5")
	f.openShift(t, 1, "0")
	f.openShift(t, 2, "0")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.sales.CreateSale(ctx, cashier(int64(i+1)), takeAway(line(p.ID, "2")))
		}()
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.KindOf(err) == apperr.KindInsufficientStock:
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	assertDecimal(t, "0", f.quantity(t, p.ID))
}

func TestManyConcurrentSalesKeepLedgerBalanced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", "5", "0", "1")
	f.openShift(t, 1, "0")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.sales.CreateSale(ctx, cashier(1), takeAway(line(p.ID, "1")))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assertDecimal(t, "0", f.quantity(t, p.ID))

	balance, err := f.store.MovementBalance(ctx, p.ID)
	require.NoError(t, err)
	assertDecimal(t, "0", balance)

	current, err := f.shifts.Current(ctx, 1)
	require.NoError(t, err)
	assertDecimal(t, "5", current.TotalSales)
	assert.Equal(t, int64(5), current.SaleCount)
}

func TestCreateSaleIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.product(t, "A", "10", "0", "1")
	b := f.product(t, "B", "1", "0", "1")
	shift := f.openShift(t, 1, "0")

	_, err := f.sales.CreateSale(ctx, cashier(1), takeAway(line(a.ID, "4"), line(b.ID, "2")))
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)

	assertDecimal(t, "10", f.quantity(t, a.ID))
	assertDecimal(t, "1", f.quantity(t, b.ID))

	sales, err := f.store.ListSalesByShift(ctx, shift.ID)
	require.NoError(t, err)
	assert.Empty(t, sales)

	movements, err := f.store.ListMovements(ctx, store.MovementFilter{ProductID: a.ID})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, models.RefOpening, movements[0].ReferenceType)

	current, err := f.shifts.Current(ctx, 1)
	require.NoError(t, err)
	assertDecimal(t, "0", current.TotalSales)
	assert.Empty(t, f.events.created)

	// the rolled back sale did not consume a receipt number
	sale, err := f.sales.CreateSale(ctx, cashier(1), takeAway(line(a.ID, "1")))
	require.NoError(t, err)
	assert.Equal(t, int64(1), sale.OrderNumber)
}

func TestCreateSaleRepeatedProductLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", "3", "0", "2")
	f.openShift(t, 1, "0")

	_, err := f.sales.CreateSale(ctx, cashier(1), takeAway(line(p.ID, "2"), line(p.ID, "2")))
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assertDecimal(t, "3", f.quantity(t, p.ID))

	sale, err := f.sales.CreateSale(ctx, cashier(1), takeAway(line(p.ID, "1"), line(p.ID, "2")))
	require.NoError(t, err)
	assert.Len(t, sale.Items, 2)
	assertDecimal(t, "0", f.quantity(t, p.ID))
}

func TestCreateSaleRequiresOpenShift(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P", "3", "0", "2")

	_, err := f.sales.CreateSale(context.Background(), cashier(9), takeAway(line(p.ID, "1")))
	assert.ErrorIs(t, err, apperr.ErrShiftNotOpen)
	assertDecimal(t, "3", f.quantity(t, p.ID))
}

func TestCreateSaleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", "10", "0", "10")
	f.openShift(t, 1, "0")

	tests := []struct {
		name string
		req  *CreateSaleRequest
	}{
		{"no items", takeAway()},
		{"dine-in without table", &CreateSaleRequest{
			OrderType: models.OrderTypeDineIn, PaymentMethod: models.PaymentCash,
			Items: []SaleItemRequest{line(p.ID, "1")},
		}},
		{"zero quantity", takeAway(line(p.ID, "0"))},
		{"unknown payment method", &CreateSaleRequest{
			OrderType: models.OrderTypeTakeAway, PaymentMethod: "cheque",
			Items: []SaleItemRequest{line(p.ID, "1")},
		}},
		{"total mismatch", &CreateSaleRequest{
			OrderType: models.OrderTypeTakeAway, PaymentMethod: models.PaymentCash,
			Total: ptr(dec("25")), Items: []SaleItemRequest{line(p.ID, "2")},
		}},
		{"subtotal mismatch", &CreateSaleRequest{
			OrderType: models.OrderTypeTakeAway, PaymentMethod: models.PaymentCash,
			Subtotal: ptr(dec("19")), Items: []SaleItemRequest{line(p.ID, "2")},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.sales.CreateSale(ctx, cashier(1), tt.req)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
	assertDecimal(t, "10", f.quantity(t, p.ID))
}

func TestCreateSaleTotalsWithinTolerance(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P", "10", "0", "10")
	f.openShift(t, 1, "0")

	req := &CreateSaleRequest{
		OrderType:     models.OrderTypeDelivery,
		PaymentMethod: models.PaymentCard,
		Subtotal:      ptr(dec("20")),
		Discount:      dec("5"),
		DeliveryFee:   dec("3"),
		Total:         ptr(dec("18.005")),
		Items:         []SaleItemRequest{line(p.ID, "2")},
	}
	sale, err := f.sales.CreateSale(context.Background(), cashier(1), req)
	require.NoError(t, err)
	assertDecimal(t, "18", sale.Total)

	current, err := f.shifts.Current(context.Background(), 1)
	require.NoError(t, err)
	assertDecimal(t, "18", current.TotalSales)
	assertDecimal(t, "0", current.CashSales)
}

func TestCreateSaleForbidden(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P", "10", "0", "10")

	_, err := f.sales.CreateSale(context.Background(), models.Actor{ID: 1}, takeAway(line(p.ID, "1")))
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestCreateSaleIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", "10", "0", "1")
	f.openShift(t, 1, "0")

	req := takeAway(line(p.ID, "2"))
	req.IdempotencyKey = "abc"

	first, err := f.sales.CreateSale(ctx, cashier(1), req)
	require.NoError(t, err)
	second, err := f.sales.CreateSale(ctx, cashier(1), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.Items, 1)
	assertDecimal(t, "8", f.quantity(t, p.ID))
}

func TestIdempotencyKeyIsScopedToCashier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", "10", "0", "1")
	f.openShift(t, 1, "0")

	req := takeAway(line(p.ID, "1"))
	req.IdempotencyKey = "k1"
	first, err := f.sales.CreateSale(ctx, cashier(1), req)
	require.NoError(t, err)

	// cashier 2 has no shift: the key must not hand back cashier 1's sale
	other := takeAway(line(p.ID, "5"))
	other.IdempotencyKey = "k1"
	_, err = f.sales.CreateSale(ctx, cashier(2), other)
	assert.ErrorIs(t, err, apperr.ErrShiftNotOpen)

	f.openShift(t, 2, "0")
	sale, err := f.sales.CreateSale(ctx, cashier(2), other)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, sale.ID)
	assert.Equal(t, int64(2), sale.CashierID)
	assertDecimal(t, "4", f.quantity(t, p.ID))
}

func TestIdempotencyKeyRejectsDifferentRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", "10", "0", "1")
	f.openShift(t, 1, "0")

	req := takeAway(line(p.ID, "1"))
	req.IdempotencyKey = "k1"
	_, err := f.sales.CreateSale(ctx, cashier(1), req)
	require.NoError(t, err)

	changed := takeAway(line(p.ID, "5"))
	changed.IdempotencyKey = "k1"
	_, err = f.sales.CreateSale(ctx, cashier(1), changed)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assertDecimal(t, "9", f.quantity(t, p.ID))
}

func TestCreateSaleExplicitZeroTotalMustMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", "10", "0", "25")
	f.openShift(t, 1, "0")

	req := takeAway(line(p.ID, "2"))
	req.Subtotal = ptr(dec("50"))
	req.Total = ptr(decimal.Zero)
	_, err := f.sales.CreateSale(ctx, cashier(1), req)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	req = takeAway(line(p.ID, "2"))
	req.Subtotal = ptr(decimal.Zero)
	_, err = f.sales.CreateSale(ctx, cashier(1), req)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assertDecimal(t, "10", f.quantity(t, p.ID))

	free := f.product(t, "WATER", "10", "0", "0")
	req = takeAway(line(free.ID, "1"))
	req.Total = ptr(decimal.Zero)
	sale, err := f.sales.CreateSale(ctx, cashier(1), req)
	require.NoError(t, err)
	assertDecimal(t, "0", sale.Total)
}

func TestCreateSaleRejectsFinerQuantity(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P", "10", "0", "25")
	f.openShift(t, 1, "0")

	_, err := f.sales.CreateSale(context.Background(), cashier(1), takeAway(line(p.ID, "0.0004")))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	sale, err := f.sales.CreateSale(context.Background(), cashier(1), takeAway(line(p.ID, "0.250")))
	require.NoError(t, err)
	assertDecimal(t, "6.25", sale.Total)
}

func TestDineInSaleOccupiesTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", "10", "0", "1")
	f.openShift(t, 1, "0")
	require.NoError(t, f.tables.Seed(ctx, "T1", 4))

	req := &CreateSaleRequest{
		OrderType:     models.OrderTypeDineIn,
		TableNumber:   "T1",
		PaymentMethod: models.PaymentCash,
		Items:         []SaleItemRequest{line(p.ID, "1")},
	}
	first, err := f.sales.CreateSale(ctx, cashier(1), req)
	require.NoError(t, err)
	_, err = f.sales.CreateSale(ctx, cashier(1), req)
	require.NoError(t, err, "a table may carry several open orders")

	table, err := f.store.GetTable(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, models.TableOccupied, table.Status)

	// kitchen progress does not release the table
	_, err = f.kitchen.SetStatus(ctx, cashier(1), first.ID, models.KitchenReady)
	require.NoError(t, err)
	table, err = f.store.GetTable(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, models.TableOccupied, table.Status)

	open, err := f.tables.OpenOrders(ctx, "T1")
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestDineInSaleUnknownTableRollsBack(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P", "10", "0", "1")
	f.openShift(t, 1, "0")

	_, err := f.sales.CreateSale(context.Background(), cashier(1), &CreateSaleRequest{
		OrderType:     models.OrderTypeDineIn,
		TableNumber:   "T404",
		PaymentMethod: models.PaymentCash,
		Items:         []SaleItemRequest{line(p.ID, "1")},
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assertDecimal(t, "10", f.quantity(t, p.ID))
}

func TestSaleBelowReorderPublishesStockLow(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P", "10", "5", "1")
	f.openShift(t, 1, "0")

	_, err := f.sales.CreateSale(context.Background(), cashier(1), takeAway(line(p.ID, "6")))
	require.NoError(t, err)

	require.Len(t, f.events.low, 1)
	assert.Equal(t, p.ID, f.events.low[0].ProductID)
	assertDecimal(t, "4", f.events.low[0].Quantity)
}

func TestHoldAndResumeOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", "10", "0", "3")
	f.openShift(t, 1, "0")

	held, err := f.sales.HoldOrder(ctx, cashier(1), takeAway(line(p.ID, "2")))
	require.NoError(t, err)
	assertDecimal(t, "10", f.quantity(t, p.ID))

	_, err = f.sales.ResumeHeldOrder(ctx, cashier(2), held.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "held orders are private to their cashier")

	resumed, err := f.sales.ResumeHeldOrder(ctx, cashier(1), held.ID)
	require.NoError(t, err)
	require.NotNil(t, resumed.HeldOrderID)
	require.Len(t, resumed.Items, 1)
	assertDecimal(t, "2", resumed.Items[0].Quantity)

	_, err = f.sales.CreateSale(ctx, cashier(1), resumed)
	require.NoError(t, err)
	assertDecimal(t, "8", f.quantity(t, p.ID))

	_, err = f.sales.ResumeHeldOrder(ctx, cashier(1), held.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// resubmitting the same resumed order cannot convert it twice
	_, err = f.sales.CreateSale(ctx, cashier(1), resumed)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assertDecimal(t, "8", f.quantity(t, p.ID))
}

func TestFailedResumeKeepsHeldOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", "1", "0", "3")
	f.openShift(t, 1, "0")

	held, err := f.sales.HoldOrder(ctx, cashier(1), takeAway(line(p.ID, "5")))
	require.NoError(t, err)

	resumed, err := f.sales.ResumeHeldOrder(ctx, cashier(1), held.ID)
	require.NoError(t, err)
	_, err = f.sales.CreateSale(ctx, cashier(1), resumed)
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)

	list, err := f.sales.ListHeldOrders(ctx, cashier(1))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, held.ID, list[0].ID)

	require.NoError(t, f.sales.DeleteHeldOrder(ctx, cashier(1), held.ID))
	assert.ErrorIs(t, f.sales.DeleteHeldOrder(ctx, cashier(1), held.ID), apperr.ErrNotFound)
}

func TestVoidSaleRestoresStockAndShift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", "10", "0", "5")
	f.openShift(t, 1, "100")

	sale, err := f.sales.CreateSale(ctx, cashier(1), takeAway(line(p.ID, "4")))
	require.NoError(t, err)

	voided, err := f.sales.VoidSale(ctx, cashier(1), sale.ID, "customer left")
	require.NoError(t, err)
	assert.True(t, voided.Voided)
	assert.Equal(t, models.KitchenCancelled, voided.KitchenStatus)

	assertDecimal(t, "10", f.quantity(t, p.ID))
	movements, err := f.store.MovementsByReference(ctx, models.RefVoid, sale.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, models.MovementIn, movements[0].Type)

	current, err := f.shifts.Current(ctx, 1)
	require.NoError(t, err)
	assertDecimal(t, "0", current.TotalSales)
	assertDecimal(t, "0", current.CashSales)
	assert.Equal(t, int64(0), current.SaleCount)

	_, err = f.sales.VoidSale(ctx, cashier(1), sale.ID, "again")
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)

	summary, err := f.shifts.Close(ctx, cashier(1), current.ID, dec("100"))
	require.NoError(t, err)
	assertDecimal(t, "100", summary.ExpectedCash.Decimal)
	require.Len(t, f.events.voided, 1)
}

func TestVoidSaleAfterReadyFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", "10", "0", "5")
	f.openShift(t, 1, "0")

	sale, err := f.sales.CreateSale(ctx, cashier(1), takeAway(line(p.ID, "1")))
	require.NoError(t, err)
	_, err = f.kitchen.SetStatus(ctx, cashier(1), sale.ID, models.KitchenReady)
	require.NoError(t, err)

	_, err = f.sales.VoidSale(ctx, cashier(1), sale.ID, "too late")
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)
	assertDecimal(t, "9", f.quantity(t, p.ID))
}

func TestVoidSaleOnClosedShiftFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", "10", "0", "5")
	shift := f.openShift(t, 1, "0")

	sale, err := f.sales.CreateSale(ctx, cashier(1), takeAway(line(p.ID, "1")))
	require.NoError(t, err)
	_, err = f.shifts.Close(ctx, cashier(1), shift.ID, dec("5"))
	require.NoError(t, err)

	_, err = f.sales.VoidSale(ctx, cashier(1), sale.ID, "after close")
	assert.ErrorIs(t, err, apperr.ErrShiftAlreadyClosed)
	assertDecimal(t, "9", f.quantity(t, p.ID))
}

func TestCreateSaleTimesOut(t *testing.T) {
	t.Run("waiting to begin", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		p := f.product(t, "P", "10", "0", "1")
		f.openShift(t, 1, "0")
		f.store.SetTxTimeout(50 * time.Millisecond)

		// takes the only SQLite connection
		held, err := f.store.GetDB().Conn(ctx)
		require.NoError(t, err)

		_, err = f.sales.CreateSale(ctx, cashier(1), takeAway(line(p.ID, "1")))
		require.NoError(t, held.Close())
		assert.ErrorIs(t, err, apperr.ErrTimeout)
		assertDecimal(t, "10", f.quantity(t, p.ID))
	})

	t.Run("deadline passes inside the transaction", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pos.db")
		f := newFixtureWithDSN(t, "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(200)")
		ctx := context.Background()
		p := f.product(t, "P", "10", "0", "1")
		f.openShift(t, 1, "0")
		f.store.SetTxTimeout(50 * time.Millisecond)

		other, err := store.NewStore(store.DriverSQLite, "file:"+path)
		require.NoError(t, err)
		defer other.Close()
		lock, err := other.GetDB().Conn(ctx)
		require.NoError(t, err)
		_, err = lock.ExecContext(ctx, "BEGIN EXCLUSIVE")
		require.NoError(t, err)

		// begin succeeds, the first read waits on the lock past the deadline
		_, err = f.sales.CreateSale(ctx, cashier(1), takeAway(line(p.ID, "1")))
		assert.ErrorIs(t, err, apperr.ErrTimeout)

		_, err = lock.ExecContext(ctx, "ROLLBACK")
		require.NoError(t, err)
		require.NoError(t, lock.Close())
		assertDecimal(t, "10", f.quantity(t, p.ID))
	})
}
