package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"restaurant-pos/internal/models"
	"restaurant-pos/internal/store"
	"restaurant-pos/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	util.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

// recordingPublisher keeps published events for assertions
type recordingPublisher struct {
	mu      sync.Mutex
	created []*models.SaleCreatedEvent
	voided  []*models.SaleVoidedEvent
	kitchen []*models.KitchenStatusChangedEvent
	low     []*models.StockLowEvent
	closed  []*models.ShiftClosedEvent
}

func (p *recordingPublisher) PublishSaleCreated(_ context.Context, e *models.SaleCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *recordingPublisher) PublishSaleVoided(_ context.Context, e *models.SaleVoidedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.voided = append(p.voided, e)
	return nil
}

func (p *recordingPublisher) PublishKitchenStatusChanged(_ context.Context, e *models.KitchenStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kitchen = append(p.kitchen, e)
	return nil
}

func (p *recordingPublisher) PublishStockLow(_ context.Context, e *models.StockLowEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.low = append(p.low, e)
	return nil
}

func (p *recordingPublisher) PublishShiftClosed(_ context.Context, e *models.ShiftClosedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, e)
	return nil
}

type fixture struct {
	store   *store.Store
	events  *recordingPublisher
	ledger  *StockLedger
	shifts  *ShiftAccount
	kitchen *KitchenWorkflow
	tables  *TableOccupancy
	held    *HeldOrderStore
	sales   *SaleService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithDSN(t, "file:"+filepath.Join(t.TempDir(), "pos.db"))
}

func newFixtureWithDSN(t *testing.T, dsn string) *fixture {
	t.Helper()

	st, err := store.NewStore(store.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	retry := RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond}
	events := &recordingPublisher{}
	f := &fixture{store: st, events: events}
	f.ledger = NewStockLedger(st, NopCache{}, events, retry)
	f.shifts = NewShiftAccount(st, events)
	f.kitchen = NewKitchenWorkflow(st, NopCache{}, events, retry)
	f.tables = NewTableOccupancy(st, retry)
	f.held = NewHeldOrderStore(st, time.Hour)
	f.sales = NewSaleService(st, f.ledger, f.shifts, f.kitchen, f.tables, f.held, events, SaleOptions{
		ReceiptPrefix:  "RCP",
		TotalTolerance: decimal.RequireFromString("0.01"),
		Location:       time.UTC,
		Retry:          retry,
	})
	return f
}

func cashier(id int64) models.Actor {
	return models.Actor{ID: id, Name: "cashier", Authorized: true}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

func (f *fixture) product(t *testing.T, code, qty, reorder, price string) *models.Product {
	t.Helper()
	p := &models.Product{
		Code:         code,
		Name:         "Product " + code,
		Quantity:     dec(qty),
		ReorderLevel: dec(reorder),
		SellPrice:    dec(price),
		IsActive:     true,
	}
	require.NoError(t, f.store.CreateProduct(context.Background(), p, 1))
	return p
}

func (f *fixture) openShift(t *testing.T, cashierID int64, opening string) *models.Shift {
	t.Helper()
	shift, err := f.shifts.Open(context.Background(), cashier(cashierID), dec(opening))
	require.NoError(t, err)
	return shift
}

func (f *fixture) quantity(t *testing.T, productID int64) decimal.Decimal {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.Quantity
}

func takeAway(items ...SaleItemRequest) *CreateSaleRequest {
	return &CreateSaleRequest{
		OrderType:     models.OrderTypeTakeAway,
		PaymentMethod: models.PaymentCash,
		Items:         items,
	}
}

func line(productID int64, qty string) SaleItemRequest {
	return SaleItemRequest{ProductID: productID, Quantity: dec(qty)}
}
