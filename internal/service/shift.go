package service

import (
	"context"
	"time"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/broker"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/store"
	"restaurant-pos/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ShiftAccount tracks each cashier's cash-drawer session
type ShiftAccount struct {
	store  *store.Store
	events EventPublisher
	logger *zap.Logger
}

// NewShiftAccount creates a new shift account service
func NewShiftAccount(st *store.Store, events EventPublisher) *ShiftAccount {
	return &ShiftAccount{
		store:  st,
		events: events,
		logger: util.GetLogger(),
	}
}

// ShiftSummary is a shift together with its worked duration
type ShiftSummary struct {
	models.Shift
	DurationHours float64 `json:"duration_hours"`
}

func summarize(shift *models.Shift, now time.Time) *ShiftSummary {
	return &ShiftSummary{
		Shift:         *shift,
		DurationHours: shift.Duration(now).Hours(),
	}
}

// Open starts a shift for the calling cashier
func (a *ShiftAccount) Open(ctx context.Context, actor models.Actor, openingBalance decimal.Decimal) (*models.Shift, error) {
	ctx, span := util.StartSpan(ctx, "ShiftAccount.Open")
	defer span.End()

	if !actor.Authorized {
		return nil, apperr.Forbidden("open a shift")
	}
	if openingBalance.IsNegative() {
		return nil, apperr.Validation("opening balance must not be negative")
	}

	existing, err := a.store.GetOpenShift(ctx, actor.ID)
	if err == nil {
		return nil, apperr.New(apperr.KindShiftAlreadyOpen,
			"cashier %d already has open shift %d", actor.ID, existing.ID)
	}
	if apperr.KindOf(err) != apperr.KindNotFound {
		return nil, err
	}

	shift := &models.Shift{
		CashierID:      actor.ID,
		StartTime:      time.Now().UTC(),
		OpeningBalance: openingBalance,
	}
	err = a.store.InTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		return tx.InsertShift(ctx, shift)
	})
	if err != nil {
		// the partial unique index caught a concurrent open
		if apperr.KindOf(err) == apperr.KindConflict {
			return nil, apperr.Wrap(err, apperr.KindShiftAlreadyOpen, "cashier %d already has an open shift", actor.ID)
		}
		return nil, err
	}

	util.ShiftsOpenedTotal.Inc()
	a.logger.Info("Shift opened",
		zap.Int64("shift_id", shift.ID),
		zap.Int64("cashier_id", actor.ID),
		zap.String("opening_balance", openingBalance.String()),
	)
	return shift, nil
}

// lockOpenTx locks the cashier's open shift inside a sale transaction
func (a *ShiftAccount) lockOpenTx(ctx context.Context, tx *store.Tx, cashierID int64) (*models.Shift, error) {
	shift, err := tx.LockOpenShift(ctx, cashierID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.New(apperr.KindShiftNotOpen, "cashier %d has no open shift", cashierID)
		}
		return nil, err
	}
	return shift, nil
}

// accrueTx folds a sale into a locked open shift
func (a *ShiftAccount) accrueTx(ctx context.Context, tx *store.Tx, shift *models.Shift, total decimal.Decimal, method models.PaymentMethod) error {
	shift.TotalSales = shift.TotalSales.Add(total)
	if method == models.PaymentCash {
		shift.CashSales = shift.CashSales.Add(total)
	}
	shift.SaleCount++
	return tx.UpdateShiftTotals(ctx, shift)
}

// reverseTx takes a voided sale back out of a locked shift
func (a *ShiftAccount) reverseTx(ctx context.Context, tx *store.Tx, shift *models.Shift, total decimal.Decimal, method models.PaymentMethod) error {
	if shift.IsClosed {
		return apperr.New(apperr.KindShiftAlreadyClosed, "shift %d is closed, its totals cannot change", shift.ID)
	}
	shift.TotalSales = shift.TotalSales.Sub(total)
	if method == models.PaymentCash {
		shift.CashSales = shift.CashSales.Sub(total)
	}
	shift.SaleCount--
	return tx.UpdateShiftTotals(ctx, shift)
}

// Close reconciles the drawer. The accrued totals are verified against the
// committed sales of the shift before anything is written.
func (a *ShiftAccount) Close(ctx context.Context, actor models.Actor, shiftID int64, physicalCash decimal.Decimal) (*ShiftSummary, error) {
	ctx, span := util.StartSpan(ctx, "ShiftAccount.Close")
	defer span.End()

	if !actor.Authorized {
		return nil, apperr.Forbidden("close a shift")
	}
	if physicalCash.IsNegative() {
		return nil, apperr.Validation("physical cash must not be negative")
	}

	var shift *models.Shift
	err := a.store.InTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		shift, err = tx.LockShift(ctx, shiftID)
		if err != nil {
			return err
		}
		if shift.IsClosed {
			return apperr.New(apperr.KindShiftAlreadyClosed, "shift %d is already closed", shiftID)
		}

		total, cash, count, err := tx.ShiftSalesTotals(ctx, shiftID)
		if err != nil {
			return err
		}
		if !total.Round(2).Equal(shift.TotalSales.Round(2)) || !cash.Round(2).Equal(shift.CashSales.Round(2)) || count != shift.SaleCount {
			return apperr.New(apperr.KindIntegrity,
				"shift %d totals disagree with its sales: recorded %s/%s, sales %s/%s",
				shiftID, shift.TotalSales.String(), shift.CashSales.String(), total.String(), cash.String())
		}

		now := time.Now().UTC()
		expected := shift.OpeningBalance.Add(shift.CashSales)
		shift.EndTime = &now
		shift.IsClosed = true
		shift.ExpectedCash = decimal.NewNullDecimal(expected)
		shift.PhysicalCash = decimal.NewNullDecimal(physicalCash)
		shift.ShortageExtra = decimal.NewNullDecimal(physicalCash.Sub(expected))
		shift.ClosedBy = &actor.ID
		return tx.CloseShift(ctx, shift)
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindIntegrity {
			util.IntegrityErrorsTotal.WithLabelValues("close_shift").Inc()
			a.logger.Error("Refusing to close shift with inconsistent totals",
				zap.Int64("shift_id", shiftID),
				zap.Error(err),
			)
		}
		return nil, err
	}

	discrepancy, _ := shift.ShortageExtra.Decimal.Float64()
	util.ShiftsClosedTotal.Inc()
	util.CashDiscrepancy.Observe(discrepancy)
	a.logger.Info("Shift closed",
		zap.Int64("shift_id", shift.ID),
		zap.Int64("cashier_id", shift.CashierID),
		zap.String("expected_cash", shift.ExpectedCash.Decimal.String()),
		zap.String("shortage_extra", shift.ShortageExtra.Decimal.String()),
	)

	event := &models.ShiftClosedEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypeShiftClosed),
		ShiftID:       shift.ID,
		CashierID:     shift.CashierID,
		TotalSales:    shift.TotalSales,
		ExpectedCash:  shift.ExpectedCash.Decimal,
		PhysicalCash:  shift.PhysicalCash.Decimal,
		ShortageExtra: shift.ShortageExtra.Decimal,
	}
	if err := a.events.PublishShiftClosed(ctx, event); err != nil {
		a.logger.Error("Failed to publish ShiftClosed event", zap.Error(err))
	}

	return summarize(shift, *shift.EndTime), nil
}

// Current returns the open shift of a cashier
func (a *ShiftAccount) Current(ctx context.Context, cashierID int64) (*ShiftSummary, error) {
	shift, err := a.store.GetOpenShift(ctx, cashierID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.New(apperr.KindShiftNotOpen, "cashier %d has no open shift", cashierID)
		}
		return nil, err
	}
	return summarize(shift, time.Now().UTC()), nil
}

// Get returns a shift by id
func (a *ShiftAccount) Get(ctx context.Context, shiftID int64) (*ShiftSummary, error) {
	shift, err := a.store.GetShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	return summarize(shift, time.Now().UTC()), nil
}
