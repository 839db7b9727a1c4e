package store

import (
	"context"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/models"

	"github.com/pkg/errors"
)

const shiftColumns = `id, cashier_id, start_time, end_time, is_closed, opening_balance, total_sales,
	cash_sales, sale_count, expected_cash, physical_cash, shortage_extra, closed_by`

// InsertShift opens a shift. The partial unique index rejects a second open
// shift for the same cashier.
func (c *conn) InsertShift(ctx context.Context, shift *models.Shift) error {
	err := c.get(ctx, &shift.ID, `
		INSERT INTO shifts (cashier_id, start_time, is_closed, opening_balance, total_sales, cash_sales, sale_count)
		VALUES (?, ?, FALSE, ?, ?, ?, 0)
		RETURNING id`,
		shift.CashierID, shift.StartTime, shift.OpeningBalance, shift.TotalSales, shift.CashSales)
	return errors.Wrap(err, "failed to insert shift")
}

// GetShift retrieves a shift by ID
func (c *conn) GetShift(ctx context.Context, id int64) (*models.Shift, error) {
	var shift models.Shift
	err := c.get(ctx, &shift, "SELECT "+shiftColumns+" FROM shifts WHERE id = ?", id)
	if err != nil {
		return nil, notFoundOr(err, "shift %d not found", id)
	}
	return &shift, nil
}

// GetOpenShift returns the cashier's open shift or a not_found error
func (c *conn) GetOpenShift(ctx context.Context, cashierID int64) (*models.Shift, error) {
	var shift models.Shift
	err := c.get(ctx, &shift,
		"SELECT "+shiftColumns+" FROM shifts WHERE cashier_id = ? AND is_closed = FALSE", cashierID)
	if err != nil {
		return nil, notFoundOr(err, "no open shift for cashier %d", cashierID)
	}
	return &shift, nil
}

// LockShift reads a shift and holds its row lock until the transaction ends
func (t *Tx) LockShift(ctx context.Context, id int64) (*models.Shift, error) {
	var shift models.Shift
	err := t.get(ctx, &shift, "SELECT "+shiftColumns+" FROM shifts WHERE id = ?"+t.forUpdate(), id)
	if err != nil {
		return nil, notFoundOr(err, "shift %d not found", id)
	}
	return &shift, nil
}

// LockOpenShift locks the cashier's open shift
func (t *Tx) LockOpenShift(ctx context.Context, cashierID int64) (*models.Shift, error) {
	var shift models.Shift
	err := t.get(ctx, &shift,
		"SELECT "+shiftColumns+" FROM shifts WHERE cashier_id = ? AND is_closed = FALSE"+t.forUpdate(),
		cashierID)
	if err != nil {
		return nil, notFoundOr(err, "no open shift for cashier %d", cashierID)
	}
	return &shift, nil
}

// UpdateShiftTotals writes the accumulated totals of a locked, open shift
func (t *Tx) UpdateShiftTotals(ctx context.Context, shift *models.Shift) error {
	res, err := t.exec(ctx, `
		UPDATE shifts SET total_sales = ?, cash_sales = ?, sale_count = ?
		WHERE id = ? AND is_closed = FALSE`,
		shift.TotalSales, shift.CashSales, shift.SaleCount, shift.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to update totals of shift %d", shift.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.New(apperr.KindShiftAlreadyClosed, "shift %d is closed", shift.ID)
	}
	return nil
}

// CloseShift stores the reconciliation snapshot of a locked shift
func (t *Tx) CloseShift(ctx context.Context, shift *models.Shift) error {
	res, err := t.exec(ctx, `
		UPDATE shifts SET is_closed = TRUE, end_time = ?, expected_cash = ?, physical_cash = ?,
			shortage_extra = ?, closed_by = ?
		WHERE id = ? AND is_closed = FALSE`,
		shift.EndTime, shift.ExpectedCash, shift.PhysicalCash, shift.ShortageExtra, shift.ClosedBy, shift.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to close shift %d", shift.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.New(apperr.KindShiftAlreadyClosed, "shift %d is already closed", shift.ID)
	}
	return nil
}
