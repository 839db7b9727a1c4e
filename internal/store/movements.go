package store

import (
	"context"
	"strings"

	"restaurant-pos/internal/models"

	"github.com/pkg/errors"
)

const movementColumns = `id, product_id, type, quantity, balance_after, reference_type, reference_id,
	reason, actor_id, created_at`

// InsertMovement appends a ledger row. Movements are never updated.
func (c *conn) InsertMovement(ctx context.Context, m *models.StockMovement) error {
	err := c.get(ctx, &m.ID, `
		INSERT INTO stock_movements (product_id, type, quantity, balance_after, reference_type,
			reference_id, reason, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		m.ProductID, m.Type, m.Quantity, m.BalanceAfter, m.ReferenceType,
		m.ReferenceID, m.Reason, m.ActorID, m.CreatedAt)
	return errors.Wrap(err, "failed to insert stock movement")
}

// MovementFilter selects a page of movements, newest first
type MovementFilter struct {
	ProductID int64 // 0 = all products
	BeforeID  int64 // 0 = from the newest
	Limit     int
}

// ListMovements returns movements matching the filter ordered by id descending
func (c *conn) ListMovements(ctx context.Context, f MovementFilter) ([]models.StockMovement, error) {
	var (
		conds []string
		args  []interface{}
	)
	if f.ProductID > 0 {
		conds = append(conds, "product_id = ?")
		args = append(args, f.ProductID)
	}
	if f.BeforeID > 0 {
		conds = append(conds, "id < ?")
		args = append(args, f.BeforeID)
	}

	query := "SELECT " + movementColumns + " FROM stock_movements"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	var movements []models.StockMovement
	if err := c.sel(ctx, &movements, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list stock movements")
	}
	return movements, nil
}

// MovementsByReference returns the movements recorded for one business document
func (c *conn) MovementsByReference(ctx context.Context, refType models.ReferenceType, refID int64) ([]models.StockMovement, error) {
	var movements []models.StockMovement
	err := c.sel(ctx, &movements,
		"SELECT "+movementColumns+" FROM stock_movements WHERE reference_type = ? AND reference_id = ? ORDER BY id",
		refType, refID)
	return movements, errors.Wrap(err, "failed to list movements by reference")
}
