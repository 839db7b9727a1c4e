package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"restaurant-pos/internal/models"
	"restaurant-pos/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducts struct {
	products []models.Product
	err      error
}

func (f *fakeProducts) ListProducts(context.Context, bool) ([]models.Product, error) {
	return f.products, f.err
}

type fakeStock struct {
	mu         sync.Mutex
	refreshed  map[int64]bool
	reconciled map[int64]bool
	broken     map[int64]bool
	failing    int64
}

func newFakeStock() *fakeStock {
	return &fakeStock{
		refreshed:  map[int64]bool{},
		reconciled: map[int64]bool{},
		broken:     map[int64]bool{},
	}
}

func (f *fakeStock) RefreshCache(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == f.failing {
		return errors.New("cache unavailable")
	}
	f.refreshed[id] = true
	return nil
}

func (f *fakeStock) Reconcile(_ context.Context, id int64) (*service.ReconcileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled[id] = true
	consistent := !f.broken[id]
	return &service.ReconcileResult{ProductID: id, Consistent: consistent, Frozen: !consistent}, nil
}

type fakePurger struct {
	calls int
}

func (f *fakePurger) PurgeExpired(context.Context, time.Time) (int64, error) {
	f.calls++
	return 2, nil
}

func products(n int) []models.Product {
	out := make([]models.Product, n)
	for i := range out {
		out[i] = models.Product{ID: int64(i + 1), IsActive: true}
	}
	return out
}

func newTestScheduler(t *testing.T, spec ScheduleSpec, lister ProductLister, stock StockJobs, held HeldOrderPurger) *Scheduler {
	t.Helper()
	s, err := NewScheduler(spec, lister, stock, held)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func TestResyncStockCacheVisitsEveryProduct(t *testing.T) {
	stock := newFakeStock()
	stock.failing = 4
	s := newTestScheduler(t, ScheduleSpec{Workers: 3}, &fakeProducts{products: products(20)}, stock, &fakePurger{})

	require.NoError(t, s.ResyncStockCache(context.Background()))
	assert.Len(t, stock.refreshed, 19)
	assert.False(t, stock.refreshed[4])
}

func TestReconcileStockChecksEveryProduct(t *testing.T) {
	stock := newFakeStock()
	stock.broken[2] = true
	s := newTestScheduler(t, ScheduleSpec{Workers: 2}, &fakeProducts{products: products(5)}, stock, &fakePurger{})

	require.NoError(t, s.ReconcileStock(context.Background()))
	assert.Len(t, stock.reconciled, 5)
}

func TestSchedulerReportsListFailure(t *testing.T) {
	lister := &fakeProducts{err: errors.New("db down")}
	s := newTestScheduler(t, ScheduleSpec{}, lister, newFakeStock(), &fakePurger{})

	assert.Error(t, s.ResyncStockCache(context.Background()))
	assert.Error(t, s.ReconcileStock(context.Background()))
}

func TestPurgeHeldOrders(t *testing.T) {
	purger := &fakePurger{}
	s := newTestScheduler(t, ScheduleSpec{}, &fakeProducts{}, newFakeStock(), purger)

	require.NoError(t, s.PurgeHeldOrders(context.Background()))
	assert.Equal(t, 1, purger.calls)
}

func TestNewSchedulerRegistersJobs(t *testing.T) {
	spec := ScheduleSpec{
		StockResync: "@every 5m",
		HeldPurge:   "@every 1h",
		Reconcile:   "0 3 * * *",
	}
	s := newTestScheduler(t, spec, &fakeProducts{}, newFakeStock(), &fakePurger{})
	assert.Len(t, s.cron.Entries(), 3)

	s = newTestScheduler(t, ScheduleSpec{HeldPurge: "@every 1h"}, &fakeProducts{}, newFakeStock(), &fakePurger{})
	assert.Len(t, s.cron.Entries(), 1)

	_, err := NewScheduler(ScheduleSpec{Reconcile: "not a schedule"}, &fakeProducts{}, newFakeStock(), &fakePurger{})
	assert.Error(t, err)
}
