package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"

	"restaurant-pos/internal/broker"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/util"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	util.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

type fakeBoard struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (b *fakeBoard) RefreshBoard(context.Context) ([]models.KitchenTicket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return nil, b.err
}

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestKitchenBoardWorkerRefreshesOnSaleEvents(t *testing.T) {
	board := &fakeBoard{}
	w := NewKitchenBoardWorker(nil, board)
	ctx := context.Background()

	events := []interface{}{
		&models.SaleCreatedEvent{BaseEvent: broker.NewBaseEvent(models.EventTypeSaleCreated), SaleID: 1},
		&models.KitchenStatusChangedEvent{BaseEvent: broker.NewBaseEvent(models.EventTypeKitchenStatusChanged), SaleID: 1},
		&models.SaleVoidedEvent{BaseEvent: broker.NewBaseEvent(models.EventTypeSaleVoided), SaleID: 1},
		&models.ShiftClosedEvent{BaseEvent: broker.NewBaseEvent(models.EventTypeShiftClosed), ShiftID: 1},
	}
	for _, e := range events {
		require.NoError(t, w.eventHandler.HandleMessage(ctx, message(t, e)))
	}
	assert.Equal(t, 3, board.calls)
}

func TestKitchenBoardWorkerReportsRefreshFailure(t *testing.T) {
	board := &fakeBoard{err: errors.New("redis down")}
	w := NewKitchenBoardWorker(nil, board)

	event := &models.SaleCreatedEvent{BaseEvent: broker.NewBaseEvent(models.EventTypeSaleCreated), SaleID: 7}
	err := w.eventHandler.HandleMessage(context.Background(), message(t, event))
	assert.Error(t, err)
}

func TestStockAlertWorkerHandlesAlerts(t *testing.T) {
	w := NewStockAlertWorker(nil)
	ctx := context.Background()

	low := &models.StockLowEvent{
		BaseEvent:    broker.NewBaseEvent(models.EventTypeStockLow),
		ProductID:    3,
		Code:         "RICE",
		Quantity:     decimal.NewFromInt(2),
		ReorderLevel: decimal.NewFromInt(5),
	}
	assert.NoError(t, w.eventHandler.HandleMessage(ctx, message(t, low)))

	closed := &models.ShiftClosedEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypeShiftClosed),
		ShiftID:       1,
		ShortageExtra: decimal.NewFromInt(-3),
	}
	assert.NoError(t, w.eventHandler.HandleMessage(ctx, message(t, closed)))
}
