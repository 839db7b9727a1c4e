package store

import (
	"context"
	"time"

	"restaurant-pos/internal/models"

	"github.com/pkg/errors"
)

// SetKitchenStatus writes the current kitchen status of a locked sale
func (t *Tx) SetKitchenStatus(ctx context.Context, saleID int64, status models.KitchenStatus, at time.Time) error {
	res, err := t.exec(ctx,
		"UPDATE sales SET kitchen_status = ?, kitchen_updated_at = ? WHERE id = ?",
		status, at, saleID)
	if err != nil {
		return errors.Wrapf(err, "failed to update kitchen status of sale %d", saleID)
	}
	return requireAffected(res, "sale %d not found", saleID)
}

// InsertKitchenLog appends a kitchen transition
func (c *conn) InsertKitchenLog(ctx context.Context, entry *models.KitchenLog) error {
	err := c.get(ctx, &entry.ID, `
		INSERT INTO kitchen_logs (sale_id, status, actor_id, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id`,
		entry.SaleID, entry.Status, entry.ActorID, entry.CreatedAt)
	return errors.Wrap(err, "failed to insert kitchen log")
}

// ListKitchenLogs returns the transition history of a sale in order
func (c *conn) ListKitchenLogs(ctx context.Context, saleID int64) ([]models.KitchenLog, error) {
	var logs []models.KitchenLog
	err := c.sel(ctx, &logs,
		"SELECT id, sale_id, status, actor_id, created_at FROM kitchen_logs WHERE sale_id = ? ORDER BY id",
		saleID)
	return logs, errors.Wrap(err, "failed to list kitchen logs")
}

// PrepTime pairs a sale's creation with the moment it became ready
type PrepTime struct {
	SaleID    int64     `db:"sale_id"`
	CreatedAt time.Time `db:"created_at"`
	ReadyAt   time.Time `db:"ready_at"`
}

// ListPrepTimes returns sales created in [from, to) that reached Ready
func (c *conn) ListPrepTimes(ctx context.Context, from, to time.Time) ([]PrepTime, error) {
	var rows []PrepTime
	err := c.sel(ctx, &rows, `
		SELECT s.id AS sale_id, s.created_at AS created_at, l.created_at AS ready_at
		FROM sales s
		JOIN kitchen_logs l ON l.sale_id = s.id AND l.status = ?
		WHERE s.created_at >= ? AND s.created_at < ?
		ORDER BY s.id`,
		models.KitchenReady, from, to)
	return rows, errors.Wrap(err, "failed to list prep times")
}
