package service

import (
	"context"
	"encoding/json"
	"time"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/store"
	"restaurant-pos/internal/util"

	"go.uber.org/zap"
)

// HeldOrderStore keeps parked orders. A held order is only visible to the
// cashier who parked it.
type HeldOrderStore struct {
	store  *store.Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewHeldOrderStore creates a held order store. ttl 0 disables expiry.
func NewHeldOrderStore(st *store.Store, ttl time.Duration) *HeldOrderStore {
	return &HeldOrderStore{
		store:  st,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// Put parks a JSON payload for a cashier
func (h *HeldOrderStore) Put(ctx context.Context, cashierID int64, payload []byte) (*models.HeldOrder, error) {
	if !json.Valid(payload) {
		return nil, apperr.Validation("held order payload must be valid JSON")
	}

	held := &models.HeldOrder{
		CashierID: cashierID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.InsertHeldOrder(ctx, held); err != nil {
		return nil, err
	}
	return held, nil
}

// Get returns a held order of the cashier
func (h *HeldOrderStore) Get(ctx context.Context, id, cashierID int64) (*models.HeldOrder, error) {
	return h.store.GetHeldOrder(ctx, id, cashierID)
}

// Delete removes a held order of the cashier
func (h *HeldOrderStore) Delete(ctx context.Context, id, cashierID int64) error {
	return h.store.DeleteHeldOrder(ctx, id, cashierID)
}

// ListByCashier returns the cashier's held orders, newest first
func (h *HeldOrderStore) ListByCashier(ctx context.Context, cashierID int64) ([]models.HeldOrder, error) {
	return h.store.ListHeldOrdersByCashier(ctx, cashierID)
}

// PurgeExpired deletes held orders older than the configured TTL
func (h *HeldOrderStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if h.ttl <= 0 {
		return 0, nil
	}
	n, err := h.store.DeleteHeldOrdersBefore(ctx, now.Add(-h.ttl).UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		h.logger.Info("Purged expired held orders", zap.Int64("count", n), zap.Duration("ttl", h.ttl))
	}
	return n, nil
}
