package store

import (
	"context"
	"time"

	"restaurant-pos/internal/models"

	"github.com/pkg/errors"
)

// InsertHeldOrder parks an order payload for a cashier
func (c *conn) InsertHeldOrder(ctx context.Context, held *models.HeldOrder) error {
	err := c.get(ctx, &held.ID, `
		INSERT INTO held_orders (cashier_id, payload, created_at)
		VALUES (?, ?, ?)
		RETURNING id`,
		held.CashierID, string(held.Payload), held.CreatedAt)
	return errors.Wrap(err, "failed to insert held order")
}

// GetHeldOrder returns a held order owned by the cashier. Orders of other
// cashiers are reported as not found.
func (c *conn) GetHeldOrder(ctx context.Context, id, cashierID int64) (*models.HeldOrder, error) {
	var held models.HeldOrder
	err := c.get(ctx, &held,
		"SELECT id, cashier_id, payload, created_at FROM held_orders WHERE id = ? AND cashier_id = ?",
		id, cashierID)
	if err != nil {
		return nil, notFoundOr(err, "held order %d not found", id)
	}
	return &held, nil
}

// DeleteHeldOrder removes a held order owned by the cashier
func (c *conn) DeleteHeldOrder(ctx context.Context, id, cashierID int64) error {
	res, err := c.exec(ctx, "DELETE FROM held_orders WHERE id = ? AND cashier_id = ?", id, cashierID)
	if err != nil {
		return errors.Wrapf(err, "failed to delete held order %d", id)
	}
	return requireAffected(res, "held order %d not found", id)
}

// ListHeldOrdersByCashier returns a cashier's held orders, newest first
func (c *conn) ListHeldOrdersByCashier(ctx context.Context, cashierID int64) ([]models.HeldOrder, error) {
	var held []models.HeldOrder
	err := c.sel(ctx, &held,
		"SELECT id, cashier_id, payload, created_at FROM held_orders WHERE cashier_id = ? ORDER BY id DESC",
		cashierID)
	return held, errors.Wrap(err, "failed to list held orders")
}

// DeleteHeldOrdersBefore purges held orders created before the cutoff
func (c *conn) DeleteHeldOrdersBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.exec(ctx, "DELETE FROM held_orders WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to purge held orders")
	}
	return res.RowsAffected()
}
