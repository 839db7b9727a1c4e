package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"restaurant-pos/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("Integration test - set REDIS_TEST_ADDR to run")
	}

	c, err := NewClient(addr, "", 15, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.GetClient().FlushDB(context.Background())
		c.Close()
	})
	require.NoError(t, c.GetClient().FlushDB(context.Background()).Err())
	return c
}

func TestSetStockLevelDropsStaleVersions(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, _, err := c.GetStockLevel(ctx, 1)
	assert.ErrorIs(t, err, ErrCacheMiss)

	applied, err := c.SetStockLevel(ctx, 1, decimal.RequireFromString("7.5"), 10)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = c.SetStockLevel(ctx, 1, decimal.NewFromInt(9), 4)
	require.NoError(t, err)
	assert.False(t, applied, "older version must not overwrite")

	qty, version, err := c.GetStockLevel(ctx, 1)
	require.NoError(t, err)
	assert.True(t, qty.Equal(decimal.RequireFromString("7.5")))
	assert.Equal(t, int64(10), version)

	applied, err = c.SetStockLevel(ctx, 1, decimal.NewFromInt(6), 11)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestKitchenBoardSnapshot(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.GetKitchenBoard(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)

	tickets := []models.KitchenTicket{{SaleID: 3, OrderNumber: 1, KitchenStatus: models.KitchenCooking}}
	require.NoError(t, c.SetKitchenBoard(ctx, tickets))

	got, err := c.GetKitchenBoard(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].SaleID)
	assert.Equal(t, models.KitchenCooking, got[0].KitchenStatus)

	require.NoError(t, c.InvalidateKitchenBoard(ctx))
	_, err = c.GetKitchenBoard(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)
}
