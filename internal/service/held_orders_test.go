package service

import (
	"context"
	"testing"
	"time"

	"restaurant-pos/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeldOrderStorePurgeExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	held, err := f.held.Put(ctx, 1, []byte(`{"items":[]}`))
	require.NoError(t, err)

	n, err := f.held.PurgeExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.held.PurgeExpired(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.held.Get(ctx, held.ID, 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestHeldOrderStoreRejectsInvalidPayload(t *testing.T) {
	f := newFixture(t)

	_, err := f.held.Put(context.Background(), 1, []byte(`{"items":`))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestHeldOrderStoreWithoutTTLKeepsOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := NewHeldOrderStore(f.store, 0)

	_, err := store.Put(ctx, 1, []byte(`{}`))
	require.NoError(t, err)

	n, err := store.PurgeExpired(ctx, time.Now().Add(365*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	orders, err := store.ListByCashier(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}
