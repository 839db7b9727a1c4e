package service

import (
	"context"

	"restaurant-pos/internal/models"
	"restaurant-pos/internal/store"
)

const defaultMovementPage = 100

// MovementCursor walks stock movements newest first using keyset pages. It is
// finite: movements recorded after the first page is fetched are not visited.
type MovementCursor struct {
	store     *store.Store
	productID int64
	limit     int
	pageSize  int

	page    []models.StockMovement
	pos     int
	lastID  int64
	served  int
	done    bool
	current models.StockMovement
	err     error
}

// Next advances the cursor, fetching the next page when needed
func (c *MovementCursor) Next(ctx context.Context) bool {
	if c.done || c.err != nil {
		return false
	}
	if c.limit > 0 && c.served >= c.limit {
		c.done = true
		return false
	}

	if c.pos >= len(c.page) {
		size := c.pageSize
		if c.limit > 0 && c.limit-c.served < size {
			size = c.limit - c.served
		}
		page, err := c.store.ListMovements(ctx, store.MovementFilter{
			ProductID: c.productID,
			BeforeID:  c.lastID,
			Limit:     size,
		})
		if err != nil {
			c.err = err
			return false
		}
		if len(page) == 0 {
			c.done = true
			return false
		}
		c.page, c.pos = page, 0
	}

	c.current = c.page[c.pos]
	c.pos++
	c.served++
	c.lastID = c.current.ID
	return true
}

// Movement returns the movement at the cursor position
func (c *MovementCursor) Movement() models.StockMovement {
	return c.current
}

// Err returns the error that stopped iteration, if any
func (c *MovementCursor) Err() error {
	return c.err
}

// Reset rewinds the cursor to the newest movement
func (c *MovementCursor) Reset() {
	c.page = nil
	c.pos = 0
	c.lastID = 0
	c.served = 0
	c.done = false
	c.current = models.StockMovement{}
	c.err = nil
}

// Collect drains the cursor into a slice
func (c *MovementCursor) Collect(ctx context.Context) ([]models.StockMovement, error) {
	var out []models.StockMovement
	for c.Next(ctx) {
		out = append(out, c.Movement())
	}
	return out, c.Err()
}
