package service

import (
	"context"
	"testing"
	"time"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSale(t *testing.T, f *fixture) *models.Sale {
	t.Helper()
	p := f.product(t, "K"+time.Now().Format("150405.000000000"), "100", "0", "1")
	if _, err := f.shifts.Current(context.Background(), 1); err != nil {
		f.openShift(t, 1, "0")
	}
	sale, err := f.sales.CreateSale(context.Background(), cashier(1), takeAway(line(p.ID, "1")))
	require.NoError(t, err)
	return sale
}

func TestKitchenTerminalStatusIsFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := newSale(t, f)

	_, err := f.kitchen.SetStatus(ctx, cashier(1), sale.ID, models.KitchenReady)
	require.NoError(t, err)

	_, err = f.kitchen.SetStatus(ctx, cashier(1), sale.ID, models.KitchenReady)
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)

	_, err = f.kitchen.SetStatus(ctx, cashier(1), sale.ID, models.KitchenCooking)
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)

	stored, err := f.sales.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.KitchenReady, stored.KitchenStatus)
}

func TestKitchenLogIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := newSale(t, f)

	steps := []models.KitchenStatus{
		models.KitchenCooking,
		models.KitchenPending,
		models.KitchenCooking,
		models.KitchenCancelled,
		models.KitchenReady,
	}
	for _, step := range steps {
		_, _ = f.kitchen.SetStatus(ctx, cashier(1), sale.ID, step)
	}

	logs, err := f.kitchen.History(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, models.KitchenPending, logs[0].Status)
	assert.Equal(t, models.KitchenCooking, logs[1].Status)
	assert.Equal(t, models.KitchenCancelled, logs[2].Status)

	for i := 1; i < len(logs); i++ {
		assert.True(t, logs[i-1].Status.CanTransitionTo(logs[i].Status))
	}
	assert.Len(t, f.events.kitchen, 2)
}

func TestKitchenSetStatusErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.kitchen.SetStatus(ctx, cashier(1), 404, models.KitchenCooking)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.kitchen.SetStatus(ctx, cashier(1), 1, models.KitchenStatus(9))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.kitchen.SetStatus(ctx, models.Actor{ID: 1}, 1, models.KitchenCooking)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestPendingOrdersBoard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := newSale(t, f)
	second := newSale(t, f)

	_, err := f.kitchen.SetStatus(ctx, cashier(1), first.ID, models.KitchenCooking)
	require.NoError(t, err)
	_, err = f.kitchen.SetStatus(ctx, cashier(1), second.ID, models.KitchenReady)
	require.NoError(t, err)

	board, err := f.kitchen.PendingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, first.ID, board[0].SaleID)
	assert.Equal(t, models.KitchenCooking, board[0].KitchenStatus)
	assert.Len(t, board[0].Items, 1)
}

func TestPrepTimeStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from := time.Now().UTC().Add(-time.Minute)

	for i := 0; i < 3; i++ {
		sale := newSale(t, f)
		_, err := f.kitchen.SetStatus(ctx, cashier(1), sale.ID, models.KitchenReady)
		require.NoError(t, err)
	}
	newSale(t, f)

	stats, err := f.kitchen.PrepTimeStats(ctx, from, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
	assert.GreaterOrEqual(t, stats.MeanSeconds, 0.0)
	assert.GreaterOrEqual(t, stats.MaxSeconds, stats.MedianSeconds)

	empty, err := f.kitchen.PrepTimeStats(ctx, from.Add(-time.Hour), from)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Count)

	_, err = f.kitchen.PrepTimeStats(ctx, from, from)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
