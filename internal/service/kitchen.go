package service

import (
	"context"
	"time"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/broker"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/store"
	"restaurant-pos/internal/util"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
)

// KitchenWorkflow drives the preparation state of each sale
type KitchenWorkflow struct {
	store  *store.Store
	board  KitchenBoardCache
	events EventPublisher
	retry  RetryPolicy
	logger *zap.Logger
}

// NewKitchenWorkflow creates a new kitchen workflow
func NewKitchenWorkflow(st *store.Store, board KitchenBoardCache, events EventPublisher, retry RetryPolicy) *KitchenWorkflow {
	return &KitchenWorkflow{
		store:  st,
		board:  board,
		events: events,
		retry:  retry,
		logger: util.GetLogger(),
	}
}

// SetStatus moves a sale to the next kitchen status
func (k *KitchenWorkflow) SetStatus(ctx context.Context, actor models.Actor, saleID int64, status models.KitchenStatus) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "KitchenWorkflow.SetStatus")
	defer span.End()

	if !actor.Authorized {
		return nil, apperr.Forbidden("update kitchen status")
	}
	if !status.Valid() {
		return nil, apperr.Validation("unknown kitchen status %d", int(status))
	}

	var (
		sale    *models.Sale
		effects afterCommit
	)
	err := withRetry(ctx, k.retry, "set_kitchen_status", func() error {
		effects = nil
		return k.store.InTx(ctx, func(ctx context.Context, tx *store.Tx) error {
			var err error
			sale, err = tx.LockSale(ctx, saleID)
			if err != nil {
				return err
			}
			return k.transitionTx(ctx, tx, sale, status, actor.ID, time.Now().UTC(), &effects)
		})
	})
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}

	effects.run(ctx)
	return sale, nil
}

// initTx records the initial Pending status of a new sale
func (k *KitchenWorkflow) initTx(ctx context.Context, tx *store.Tx, sale *models.Sale, actorID int64, effects *afterCommit) error {
	err := tx.InsertKitchenLog(ctx, &models.KitchenLog{
		SaleID:    sale.ID,
		Status:    models.KitchenPending,
		ActorID:   actorID,
		CreatedAt: sale.CreatedAt,
	})
	if err != nil {
		return err
	}
	effects.add(func(ctx context.Context) {
		util.KitchenTransitionsTotal.WithLabelValues(models.KitchenPending.String()).Inc()
		k.invalidateBoard(ctx)
	})
	return nil
}

// transitionTx applies a transition to a sale locked by tx
func (k *KitchenWorkflow) transitionTx(
	ctx context.Context,
	tx *store.Tx,
	sale *models.Sale,
	next models.KitchenStatus,
	actorID int64,
	now time.Time,
	effects *afterCommit,
) error {
	from := sale.KitchenStatus
	if !from.CanTransitionTo(next) {
		return apperr.InvalidTransition("kitchen status of sale %d cannot change from %s to %s", sale.ID, from, next)
	}

	if err := tx.SetKitchenStatus(ctx, sale.ID, next, now); err != nil {
		return err
	}
	err := tx.InsertKitchenLog(ctx, &models.KitchenLog{
		SaleID:    sale.ID,
		Status:    next,
		ActorID:   actorID,
		CreatedAt: now,
	})
	if err != nil {
		return err
	}

	sale.KitchenStatus = next
	sale.KitchenUpdatedAt = &now

	saleID := sale.ID
	effects.add(func(ctx context.Context) {
		util.KitchenTransitionsTotal.WithLabelValues(next.String()).Inc()
		k.logger.Info("Kitchen status changed",
			zap.Int64("sale_id", saleID),
			zap.String("from", from.String()),
			zap.String("to", next.String()),
			zap.Int64("actor_id", actorID),
		)
		k.invalidateBoard(ctx)

		event := &models.KitchenStatusChangedEvent{
			BaseEvent: broker.NewBaseEvent(models.EventTypeKitchenStatusChanged),
			SaleID:    saleID,
			From:      from,
			To:        next,
			ActorID:   actorID,
		}
		if err := k.events.PublishKitchenStatusChanged(ctx, event); err != nil {
			k.logger.Error("Failed to publish KitchenStatusChanged event", zap.Error(err))
		}
	})
	return nil
}

func (k *KitchenWorkflow) invalidateBoard(ctx context.Context) {
	if err := k.board.InvalidateKitchenBoard(ctx); err != nil {
		k.logger.Warn("Failed to invalidate kitchen board", zap.Error(err))
	}
}

// PendingOrders returns the kitchen board. The cached snapshot may trail the
// database briefly; on a miss the board is rebuilt from the database.
func (k *KitchenWorkflow) PendingOrders(ctx context.Context) ([]models.KitchenTicket, error) {
	ctx, span := util.StartSpan(ctx, "KitchenWorkflow.PendingOrders")
	defer span.End()

	if tickets, err := k.board.GetKitchenBoard(ctx); err == nil {
		return tickets, nil
	}
	return k.RefreshBoard(ctx)
}

// RefreshBoard rebuilds the kitchen board from the database and caches it
func (k *KitchenWorkflow) RefreshBoard(ctx context.Context) ([]models.KitchenTicket, error) {
	sales, err := k.store.ListKitchenQueue(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(sales))
	for _, s := range sales {
		ids = append(ids, s.ID)
	}
	items, err := k.store.GetSaleItemsBySaleIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	tickets := make([]models.KitchenTicket, 0, len(sales))
	for _, s := range sales {
		tickets = append(tickets, models.KitchenTicket{
			SaleID:        s.ID,
			OrderNumber:   s.OrderNumber,
			OrderType:     s.OrderType,
			TableNumber:   s.TableNumber,
			KitchenStatus: s.KitchenStatus,
			CreatedAt:     s.CreatedAt,
			Items:         items[s.ID],
		})
	}

	if err := k.board.SetKitchenBoard(ctx, tickets); err != nil {
		k.logger.Warn("Failed to cache kitchen board", zap.Error(err))
	}
	return tickets, nil
}

// History returns the ordered kitchen log of a sale
func (k *KitchenWorkflow) History(ctx context.Context, saleID int64) ([]models.KitchenLog, error) {
	if _, err := k.store.GetSale(ctx, saleID); err != nil {
		return nil, err
	}
	return k.store.ListKitchenLogs(ctx, saleID)
}

// PrepStats summarizes the time from sale creation to Ready
type PrepStats struct {
	Count         int     `json:"count"`
	MeanSeconds   float64 `json:"mean_seconds"`
	MedianSeconds float64 `json:"median_seconds"`
	P90Seconds    float64 `json:"p90_seconds"`
	MaxSeconds    float64 `json:"max_seconds"`
}

// PrepTimeStats computes preparation time statistics for sales created in [from, to)
func (k *KitchenWorkflow) PrepTimeStats(ctx context.Context, from, to time.Time) (*PrepStats, error) {
	ctx, span := util.StartSpan(ctx, "KitchenWorkflow.PrepTimeStats")
	defer span.End()

	if !to.After(from) {
		return nil, apperr.Validation("prep time window must end after it starts")
	}

	rows, err := k.store.ListPrepTimes(ctx, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &PrepStats{}, nil
	}

	data := make(stats.Float64Data, 0, len(rows))
	for _, r := range rows {
		data = append(data, r.ReadyAt.Sub(r.CreatedAt).Seconds())
	}

	result := &PrepStats{Count: len(data)}
	if result.MeanSeconds, err = data.Mean(); err != nil {
		return nil, err
	}
	if result.MedianSeconds, err = data.Median(); err != nil {
		return nil, err
	}
	if result.P90Seconds, err = data.Percentile(90); err != nil {
		return nil, err
	}
	if result.MaxSeconds, err = data.Max(); err != nil {
		return nil, err
	}
	return result, nil
}
