package service

import (
	"context"

	"restaurant-pos/internal/models"

	"github.com/shopspring/decimal"
)

// EventPublisher publishes domain events after commit. *broker.EventPublisher
// implements it.
type EventPublisher interface {
	PublishSaleCreated(ctx context.Context, event *models.SaleCreatedEvent) error
	PublishSaleVoided(ctx context.Context, event *models.SaleVoidedEvent) error
	PublishKitchenStatusChanged(ctx context.Context, event *models.KitchenStatusChangedEvent) error
	PublishStockLow(ctx context.Context, event *models.StockLowEvent) error
	PublishShiftClosed(ctx context.Context, event *models.ShiftClosedEvent) error
}

// StockCache mirrors product quantities for fast reads. *redisclient.Client
// implements it.
type StockCache interface {
	SetStockLevel(ctx context.Context, productID int64, quantity decimal.Decimal, version int64) (bool, error)
}

// KitchenBoardCache holds the kitchen display snapshot. *redisclient.Client
// implements it.
type KitchenBoardCache interface {
	GetKitchenBoard(ctx context.Context) ([]models.KitchenTicket, error)
	SetKitchenBoard(ctx context.Context, tickets []models.KitchenTicket) error
	InvalidateKitchenBoard(ctx context.Context) error
}

// NopPublisher drops every event. Used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishSaleCreated(context.Context, *models.SaleCreatedEvent) error { return nil }
func (NopPublisher) PublishSaleVoided(context.Context, *models.SaleVoidedEvent) error { return nil }
func (NopPublisher) PublishKitchenStatusChanged(context.Context, *models.KitchenStatusChangedEvent) error {
	return nil
}
func (NopPublisher) PublishStockLow(context.Context, *models.StockLowEvent) error { return nil }
func (NopPublisher) PublishShiftClosed(context.Context, *models.ShiftClosedEvent) error { return nil }

// NopCache is a StockCache and KitchenBoardCache that never holds anything
type NopCache struct{}

func (NopCache) SetStockLevel(context.Context, int64, decimal.Decimal, int64) (bool, error) {
	return false, nil
}

func (NopCache) GetKitchenBoard(context.Context) ([]models.KitchenTicket, error) {
	return nil, errCacheDisabled
}

func (NopCache) SetKitchenBoard(context.Context, []models.KitchenTicket) error { return nil }
func (NopCache) InvalidateKitchenBoard(context.Context) error { return nil }

// afterCommit collects side effects that must only run once the transaction
// has committed
type afterCommit []func(ctx context.Context)

func (a *afterCommit) add(fn func(ctx context.Context)) {
	*a = append(*a, fn)
}

func (a afterCommit) run(ctx context.Context) {
	for _, fn := range a {
		fn(ctx)
	}
}
