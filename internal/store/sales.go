package store

import (
	"context"
	"database/sql"
	"time"

	"restaurant-pos/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const saleColumns = `id, receipt_number, order_number, cashier_id, shift_id, order_type, table_number,
	customer_name, customer_phone, customer_address, subtotal, discount, delivery_fee, total,
	payment_method, kitchen_status, kitchen_updated_at, COALESCE(idempotency_key, '') AS idempotency_key,
	request_hash, voided, void_reason, voided_at, created_at`

const saleItemColumns = `id, sale_id, product_id, product_name, quantity, unit_price, line_total`

// NextReceiptSequence increments the per-day sequence. The row stays locked
// until the sale transaction ends, and a rollback returns the number.
func (t *Tx) NextReceiptSequence(ctx context.Context, businessDay string) (int64, error) {
	var seq int64
	err := t.get(ctx, &seq, `
		INSERT INTO receipt_sequences (business_day, last_seq) VALUES (?, 1)
		ON CONFLICT (business_day) DO UPDATE SET last_seq = receipt_sequences.last_seq + 1
		RETURNING last_seq`, businessDay)
	return seq, errors.Wrap(err, "failed to allocate receipt sequence")
}

// InsertSale creates a sale header
func (c *conn) InsertSale(ctx context.Context, sale *models.Sale, heldOrderID *int64) error {
	var idempotencyKey interface{}
	if sale.IdempotencyKey != "" {
		idempotencyKey = sale.IdempotencyKey
	}

	err := c.get(ctx, &sale.ID, `
		INSERT INTO sales (receipt_number, order_number, cashier_id, shift_id, order_type, table_number,
			customer_name, customer_phone, customer_address, subtotal, discount, delivery_fee, total,
			payment_method, kitchen_status, kitchen_updated_at, idempotency_key, request_hash, held_order_id,
			voided, void_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, FALSE, '', ?)
		RETURNING id`,
		sale.ReceiptNumber, sale.OrderNumber, sale.CashierID, sale.ShiftID, sale.OrderType, sale.TableNumber,
		sale.CustomerName, sale.CustomerPhone, sale.CustomerAddress, sale.Subtotal, sale.Discount,
		sale.DeliveryFee, sale.Total, sale.PaymentMethod, sale.KitchenStatus, sale.KitchenUpdatedAt,
		idempotencyKey, sale.RequestHash, heldOrderID, sale.CreatedAt)
	return errors.Wrap(err, "failed to insert sale")
}

// InsertSaleItem creates a sale line
func (c *conn) InsertSaleItem(ctx context.Context, item *models.SaleItem) error {
	err := c.get(ctx, &item.ID, `
		INSERT INTO sale_items (sale_id, product_id, product_name, quantity, unit_price, line_total)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`,
		item.SaleID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.LineTotal)
	return errors.Wrap(err, "failed to insert sale item")
}

// GetSale retrieves a sale header by ID
func (c *conn) GetSale(ctx context.Context, id int64) (*models.Sale, error) {
	var sale models.Sale
	err := c.get(ctx, &sale, "SELECT "+saleColumns+" FROM sales WHERE id = ?", id)
	if err != nil {
		return nil, notFoundOr(err, "sale %d not found", id)
	}
	return &sale, nil
}

// GetSaleWithItems retrieves a sale and its lines
func (c *conn) GetSaleWithItems(ctx context.Context, id int64) (*models.Sale, error) {
	sale, err := c.GetSale(ctx, id)
	if err != nil {
		return nil, err
	}
	sale.Items, err = c.GetSaleItems(ctx, id)
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// GetSaleByIdempotencyKey returns nil when the cashier has no sale with the key.
// Keys are scoped per cashier.
func (c *conn) GetSaleByIdempotencyKey(ctx context.Context, cashierID int64, key string) (*models.Sale, error) {
	var sale models.Sale
	err := c.get(ctx, &sale,
		"SELECT "+saleColumns+" FROM sales WHERE cashier_id = ? AND idempotency_key = ?", cashierID, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to look up idempotency key")
	}
	return &sale, nil
}

// LockSale reads a sale and holds its row lock until the transaction ends
func (t *Tx) LockSale(ctx context.Context, id int64) (*models.Sale, error) {
	var sale models.Sale
	err := t.get(ctx, &sale, "SELECT "+saleColumns+" FROM sales WHERE id = ?"+t.forUpdate(), id)
	if err != nil {
		return nil, notFoundOr(err, "sale %d not found", id)
	}
	return &sale, nil
}

// MarkSaleVoided flags a sale as voided
func (t *Tx) MarkSaleVoided(ctx context.Context, id int64, reason string, actorID int64, at time.Time) error {
	res, err := t.exec(ctx,
		"UPDATE sales SET voided = TRUE, void_reason = ?, voided_by = ?, voided_at = ? WHERE id = ?",
		reason, actorID, at, id)
	if err != nil {
		return errors.Wrapf(err, "failed to void sale %d", id)
	}
	return requireAffected(res, "sale %d not found", id)
}

// GetSaleItems retrieves all items for a sale
func (c *conn) GetSaleItems(ctx context.Context, saleID int64) ([]models.SaleItem, error) {
	var items []models.SaleItem
	err := c.sel(ctx, &items,
		"SELECT "+saleItemColumns+" FROM sale_items WHERE sale_id = ? ORDER BY id", saleID)
	return items, errors.Wrap(err, "failed to get sale items")
}

// GetSaleItemsBySaleIDs retrieves items for several sales grouped by sale
func (c *conn) GetSaleItemsBySaleIDs(ctx context.Context, saleIDs []int64) (map[int64][]models.SaleItem, error) {
	grouped := make(map[int64][]models.SaleItem, len(saleIDs))
	if len(saleIDs) == 0 {
		return grouped, nil
	}

	query, args, err := sqlx.In(
		"SELECT "+saleItemColumns+" FROM sale_items WHERE sale_id IN (?) ORDER BY sale_id, id", saleIDs)
	if err != nil {
		return nil, err
	}

	var items []models.SaleItem
	if err := c.sel(ctx, &items, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to get sale items")
	}
	for _, item := range items {
		grouped[item.SaleID] = append(grouped[item.SaleID], item)
	}
	return grouped, nil
}

// ListSalesByShift returns the sales attributed to a shift
func (c *conn) ListSalesByShift(ctx context.Context, shiftID int64) ([]models.Sale, error) {
	var sales []models.Sale
	err := c.sel(ctx, &sales,
		"SELECT "+saleColumns+" FROM sales WHERE shift_id = ? ORDER BY id", shiftID)
	return sales, errors.Wrap(err, "failed to list shift sales")
}

// ShiftSalesTotals sums the committed, non-voided sales of a shift
func (c *conn) ShiftSalesTotals(ctx context.Context, shiftID int64) (total, cash decimal.Decimal, count int64, err error) {
	sales, err := c.ListSalesByShift(ctx, shiftID)
	if err != nil {
		return decimal.Zero, decimal.Zero, 0, err
	}
	for _, s := range sales {
		if s.Voided {
			continue
		}
		total = total.Add(s.Total)
		if s.PaymentMethod == models.PaymentCash {
			cash = cash.Add(s.Total)
		}
		count++
	}
	return total, cash, count, nil
}

// ListOpenSalesForTable returns non-voided sales on a table that the kitchen
// has not finished
func (c *conn) ListOpenSalesForTable(ctx context.Context, tableNumber string) ([]models.Sale, error) {
	var sales []models.Sale
	err := c.sel(ctx, &sales,
		"SELECT "+saleColumns+` FROM sales
		WHERE table_number = ? AND voided = FALSE AND kitchen_status IN (?, ?)
		ORDER BY id`,
		tableNumber, models.KitchenPending, models.KitchenCooking)
	return sales, errors.Wrap(err, "failed to list table sales")
}

// ListKitchenQueue returns unfinished, non-voided sales oldest first
func (c *conn) ListKitchenQueue(ctx context.Context) ([]models.Sale, error) {
	var sales []models.Sale
	err := c.sel(ctx, &sales,
		"SELECT "+saleColumns+` FROM sales
		WHERE voided = FALSE AND kitchen_status IN (?, ?)
		ORDER BY id`,
		models.KitchenPending, models.KitchenCooking)
	return sales, errors.Wrap(err, "failed to list kitchen queue")
}
