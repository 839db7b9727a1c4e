package store

import (
	"context"
	"time"

	"restaurant-pos/internal/models"

	"github.com/pkg/errors"
)

const tableColumns = `id, table_number, capacity, status, status_notes, reserved_for, reserved_at,
	is_active, updated_at`

// UpsertTable creates a table or refreshes its capacity, keeping its status
func (c *conn) UpsertTable(ctx context.Context, number string, capacity int) error {
	_, err := c.exec(ctx, `
		INSERT INTO dining_tables (table_number, capacity, status, is_active, updated_at)
		VALUES (?, ?, ?, TRUE, ?)
		ON CONFLICT (table_number) DO UPDATE SET capacity = excluded.capacity, is_active = TRUE`,
		number, capacity, models.TableAvailable, time.Now().UTC())
	return errors.Wrapf(err, "failed to upsert table %s", number)
}

// GetTable retrieves an active table by number
func (c *conn) GetTable(ctx context.Context, number string) (*models.Table, error) {
	var table models.Table
	err := c.get(ctx, &table,
		"SELECT "+tableColumns+" FROM dining_tables WHERE table_number = ? AND is_active = TRUE", number)
	if err != nil {
		return nil, notFoundOr(err, "table %s not found", number)
	}
	return &table, nil
}

// ListTables returns active tables ordered by number
func (c *conn) ListTables(ctx context.Context) ([]models.Table, error) {
	var tables []models.Table
	err := c.sel(ctx, &tables,
		"SELECT "+tableColumns+" FROM dining_tables WHERE is_active = TRUE ORDER BY table_number")
	return tables, errors.Wrap(err, "failed to list tables")
}

// LockTable reads an active table and holds its row lock
func (t *Tx) LockTable(ctx context.Context, number string) (*models.Table, error) {
	var table models.Table
	err := t.get(ctx, &table,
		"SELECT "+tableColumns+" FROM dining_tables WHERE table_number = ? AND is_active = TRUE"+t.forUpdate(),
		number)
	if err != nil {
		return nil, notFoundOr(err, "table %s not found", number)
	}
	return &table, nil
}

// UpdateTableStatus writes status and reservation fields of a locked table
func (t *Tx) UpdateTableStatus(ctx context.Context, table *models.Table) error {
	res, err := t.exec(ctx, `
		UPDATE dining_tables SET status = ?, status_notes = ?, reserved_for = ?, reserved_at = ?, updated_at = ?
		WHERE id = ?`,
		table.Status, table.StatusNotes, table.ReservedFor, table.ReservedAt, table.UpdatedAt, table.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to update table %s", table.TableNumber)
	}
	return requireAffected(res, "table %s not found", table.TableNumber)
}
