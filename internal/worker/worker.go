package worker

import (
	"context"

	"restaurant-pos/internal/broker"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/util"

	"go.uber.org/zap"
)

// BoardRefresher rebuilds the cached kitchen board
type BoardRefresher interface {
	RefreshBoard(ctx context.Context) ([]models.KitchenTicket, error)
}

// KitchenBoardWorker keeps the kitchen board cache warm from sale events
type KitchenBoardWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	board        BoardRefresher
	logger       *zap.Logger
}

// NewKitchenBoardWorker creates a new kitchen board worker
func NewKitchenBoardWorker(consumer *broker.Consumer, board BoardRefresher) *KitchenBoardWorker {
	w := &KitchenBoardWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		board:        board,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnSaleCreated(func(ctx context.Context, e *models.SaleCreatedEvent) error {
		return w.refresh(ctx, e.SaleID)
	})
	w.eventHandler.OnSaleVoided(func(ctx context.Context, e *models.SaleVoidedEvent) error {
		return w.refresh(ctx, e.SaleID)
	})
	w.eventHandler.OnKitchenStatusChanged(func(ctx context.Context, e *models.KitchenStatusChangedEvent) error {
		return w.refresh(ctx, e.SaleID)
	})
	return w
}

func (w *KitchenBoardWorker) refresh(ctx context.Context, saleID int64) error {
	tickets, err := w.board.RefreshBoard(ctx)
	if err != nil {
		return err
	}
	w.logger.Debug("Kitchen board refreshed",
		zap.Int64("sale_id", saleID),
		zap.Int("tickets", len(tickets)),
	)
	return nil
}

// Start starts the worker
func (w *KitchenBoardWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting kitchen board worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *KitchenBoardWorker) Stop() error {
	w.logger.Info("Stopping kitchen board worker")
	return w.consumer.Close()
}

// StockAlertWorker reports products that fell to their reorder level
type StockAlertWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewStockAlertWorker creates a new stock alert worker
func NewStockAlertWorker(consumer *broker.Consumer) *StockAlertWorker {
	w := &StockAlertWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnStockLow(w.handleStockLow)
	w.eventHandler.OnShiftClosed(w.handleShiftClosed)
	return w
}

func (w *StockAlertWorker) handleStockLow(_ context.Context, e *models.StockLowEvent) error {
	w.logger.Warn("Product at or below reorder level",
		zap.Int64("product_id", e.ProductID),
		zap.String("code", e.Code),
		zap.String("quantity", e.Quantity.String()),
		zap.String("reorder_level", e.ReorderLevel.String()),
	)
	return nil
}

func (w *StockAlertWorker) handleShiftClosed(_ context.Context, e *models.ShiftClosedEvent) error {
	if e.ShortageExtra.IsZero() {
		return nil
	}
	w.logger.Warn("Shift closed with cash discrepancy",
		zap.Int64("shift_id", e.ShiftID),
		zap.Int64("cashier_id", e.CashierID),
		zap.String("expected_cash", e.ExpectedCash.String()),
		zap.String("physical_cash", e.PhysicalCash.String()),
		zap.String("shortage_extra", e.ShortageExtra.String()),
	)
	return nil
}

// Start starts the stock alert worker
func (w *StockAlertWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting stock alert worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the stock alert worker
func (w *StockAlertWorker) Stop() error {
	w.logger.Info("Stopping stock alert worker")
	return w.consumer.Close()
}
