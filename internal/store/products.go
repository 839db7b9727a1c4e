package store

import (
	"context"
	"sort"
	"time"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const productColumns = `id, code, name, unit, quantity, reorder_level, cost_price, sell_price,
	is_active, stock_frozen, created_at, updated_at`

// CreateProduct inserts a product and records its opening quantity as an
// OPENING movement, so the ledger sums to the on-hand quantity from creation.
func (s *Store) CreateProduct(ctx context.Context, p *models.Product, actorID int64) error {
	if p.Quantity.IsNegative() {
		return apperr.Validation("opening quantity must not be negative")
	}
	if !p.Quantity.Equal(p.Quantity.Round(3)) {
		return apperr.Validation("opening quantity allows at most 3 decimals")
	}
	now := time.Now().UTC()
	if p.Unit == "" {
		p.Unit = "pcs"
	}

	return s.InTx(ctx, func(ctx context.Context, tx *Tx) error {
		err := tx.get(ctx, &p.ID, `
			INSERT INTO products (code, name, unit, quantity, reorder_level, cost_price, sell_price,
				is_active, stock_frozen, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, FALSE, ?, ?)
			RETURNING id`,
			p.Code, p.Name, p.Unit, p.Quantity, p.ReorderLevel, p.CostPrice, p.SellPrice,
			p.IsActive, now, now)
		if err != nil {
			return errors.Wrap(err, "failed to insert product")
		}
		p.CreatedAt, p.UpdatedAt = now, now

		if !p.Quantity.IsPositive() {
			return nil
		}
		return tx.InsertMovement(ctx, &models.StockMovement{
			ProductID:     p.ID,
			Type:          models.MovementIn,
			Quantity:      p.Quantity,
			BalanceAfter:  p.Quantity,
			ReferenceType: models.RefOpening,
			Reason:        "opening stock",
			ActorID:       actorID,
			CreatedAt:     now,
		})
	})
}

// GetProduct retrieves a product by ID
func (c *conn) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := c.get(ctx, &product, "SELECT "+productColumns+" FROM products WHERE id = ?", id)
	if err != nil {
		return nil, notFoundOr(err, "product %d not found", id)
	}
	return &product, nil
}

// GetProductByCode retrieves a product by code
func (c *conn) GetProductByCode(ctx context.Context, code string) (*models.Product, error) {
	var product models.Product
	err := c.get(ctx, &product, "SELECT "+productColumns+" FROM products WHERE code = ?", code)
	if err != nil {
		return nil, notFoundOr(err, "product %q not found", code)
	}
	return &product, nil
}

// ListProducts retrieves products ordered by id
func (c *conn) ListProducts(ctx context.Context, activeOnly bool) ([]models.Product, error) {
	query := "SELECT " + productColumns + " FROM products"
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY id"

	var products []models.Product
	err := c.sel(ctx, &products, query)
	return products, err
}

// LockProduct reads a product and holds its row lock until the transaction ends
func (t *Tx) LockProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := t.get(ctx, &product,
		"SELECT "+productColumns+" FROM products WHERE id = ?"+t.forUpdate(), id)
	if err != nil {
		return nil, notFoundOr(err, "product %d not found", id)
	}
	return &product, nil
}

// LockProducts locks the given products in ascending id order so that
// concurrent transactions touching overlapping products cannot deadlock.
func (t *Tx) LockProducts(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	sorted := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	products := make(map[int64]*models.Product, len(sorted))
	for _, id := range sorted {
		p, err := t.LockProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		products[id] = p
	}
	return products, nil
}

// SetProductQuantity writes the on-hand quantity of a locked product
func (t *Tx) SetProductQuantity(ctx context.Context, id int64, quantity decimal.Decimal, at time.Time) error {
	_, err := t.exec(ctx,
		"UPDATE products SET quantity = ?, updated_at = ? WHERE id = ?",
		quantity, at, id)
	return errors.Wrapf(err, "failed to update quantity of product %d", id)
}

// SetStockFrozen blocks or unblocks ledger writes for a product
func (c *conn) SetStockFrozen(ctx context.Context, id int64, frozen bool) error {
	res, err := c.exec(ctx,
		"UPDATE products SET stock_frozen = ?, updated_at = ? WHERE id = ?",
		frozen, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrapf(err, "failed to update product %d", id)
	}
	return requireAffected(res, "product %d not found", id)
}

// MovementBalance sums signed movement quantities of a product
func (c *conn) MovementBalance(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := c.get(ctx, &sum, `
		SELECT SUM(CASE WHEN type = 'IN' THEN quantity ELSE -quantity END)
		FROM stock_movements WHERE product_id = ?`, productID)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to sum movements of product %d", productID)
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}
