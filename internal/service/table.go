package service

import (
	"context"
	"strings"
	"time"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/store"
	"restaurant-pos/internal/util"

	"go.uber.org/zap"
)

// TableOccupancy manages dine-in table status. Kitchen progress never changes
// a table; release is always explicit.
type TableOccupancy struct {
	store  *store.Store
	retry  RetryPolicy
	logger *zap.Logger
}

// NewTableOccupancy creates a new table occupancy service
func NewTableOccupancy(st *store.Store, retry RetryPolicy) *TableOccupancy {
	return &TableOccupancy{
		store:  st,
		retry:  retry,
		logger: util.GetLogger(),
	}
}

// ReserveRequest books an available table for a customer
type ReserveRequest struct {
	Customer string    `json:"customer"`
	Time     time.Time `json:"time"`
	Notes    string    `json:"notes,omitempty"`
}

// Seed creates or resizes a table
func (o *TableOccupancy) Seed(ctx context.Context, number string, capacity int) error {
	number = strings.TrimSpace(number)
	if number == "" {
		return apperr.Validation("table number is required")
	}
	if capacity < 0 {
		return apperr.Validation("table capacity must not be negative")
	}
	return o.store.UpsertTable(ctx, number, capacity)
}

// Occupy marks a table occupied. Occupying an occupied table is allowed, a
// table may carry several open orders.
func (o *TableOccupancy) Occupy(ctx context.Context, actor models.Actor, number, notes string) (*models.Table, error) {
	ctx, span := util.StartSpan(ctx, "TableOccupancy.Occupy")
	defer span.End()

	if !actor.Authorized {
		return nil, apperr.Forbidden("occupy tables")
	}
	return o.update(ctx, "occupy_table", func(ctx context.Context, tx *store.Tx) (*models.Table, error) {
		table, err := o.occupyTx(ctx, tx, number, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		if notes != "" {
			table.StatusNotes = notes
			err = tx.UpdateTableStatus(ctx, table)
		}
		return table, err
	})
}

func (o *TableOccupancy) occupyTx(ctx context.Context, tx *store.Tx, number string, now time.Time) (*models.Table, error) {
	table, err := tx.LockTable(ctx, number)
	if err != nil {
		return nil, err
	}
	if table.Status == models.TableOccupied {
		return table, nil
	}

	table.Status = models.TableOccupied
	table.ReservedFor = ""
	table.ReservedAt = nil
	table.UpdatedAt = now
	return table, tx.UpdateTableStatus(ctx, table)
}

// Release makes a table available again. Releasing an available table is a no-op.
func (o *TableOccupancy) Release(ctx context.Context, actor models.Actor, number string) (*models.Table, error) {
	ctx, span := util.StartSpan(ctx, "TableOccupancy.Release")
	defer span.End()

	if !actor.Authorized {
		return nil, apperr.Forbidden("release tables")
	}
	return o.update(ctx, "release_table", func(ctx context.Context, tx *store.Tx) (*models.Table, error) {
		table, err := tx.LockTable(ctx, number)
		if err != nil {
			return nil, err
		}
		if table.Status == models.TableAvailable {
			return table, nil
		}

		table.Status = models.TableAvailable
		table.StatusNotes = ""
		table.ReservedFor = ""
		table.ReservedAt = nil
		table.UpdatedAt = time.Now().UTC()
		return table, tx.UpdateTableStatus(ctx, table)
	})
}

// Reserve books an available table
func (o *TableOccupancy) Reserve(ctx context.Context, actor models.Actor, number string, req ReserveRequest) (*models.Table, error) {
	ctx, span := util.StartSpan(ctx, "TableOccupancy.Reserve")
	defer span.End()

	if !actor.Authorized {
		return nil, apperr.Forbidden("reserve tables")
	}
	if strings.TrimSpace(req.Customer) == "" {
		return nil, apperr.Validation("reservation customer is required")
	}
	if req.Time.IsZero() {
		return nil, apperr.Validation("reservation time is required")
	}

	return o.update(ctx, "reserve_table", func(ctx context.Context, tx *store.Tx) (*models.Table, error) {
		table, err := tx.LockTable(ctx, number)
		if err != nil {
			return nil, err
		}
		if table.Status != models.TableAvailable {
			return nil, apperr.InvalidTransition("table %s is %s and cannot be reserved", number, table.Status)
		}

		at := req.Time.UTC()
		table.Status = models.TableReserved
		table.StatusNotes = req.Notes
		table.ReservedFor = req.Customer
		table.ReservedAt = &at
		table.UpdatedAt = time.Now().UTC()
		return table, tx.UpdateTableStatus(ctx, table)
	})
}

func (o *TableOccupancy) update(ctx context.Context, op string, fn func(ctx context.Context, tx *store.Tx) (*models.Table, error)) (*models.Table, error) {
	var table *models.Table
	err := withRetry(ctx, o.retry, op, func() error {
		return o.store.InTx(ctx, func(ctx context.Context, tx *store.Tx) error {
			var err error
			table, err = fn(ctx, tx)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("Table updated",
		zap.String("operation", op),
		zap.String("table", table.TableNumber),
		zap.String("status", string(table.Status)),
	)
	return table, nil
}

// List returns all active tables
func (o *TableOccupancy) List(ctx context.Context) ([]models.Table, error) {
	return o.store.ListTables(ctx)
}

// OpenOrders returns the sales on a table the kitchen has not finished
func (o *TableOccupancy) OpenOrders(ctx context.Context, number string) ([]models.Sale, error) {
	if _, err := o.store.GetTable(ctx, number); err != nil {
		return nil, err
	}
	return o.store.ListOpenSalesForTable(ctx, number)
}
