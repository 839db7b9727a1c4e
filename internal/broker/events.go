package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"restaurant-pos/internal/models"
	"restaurant-pos/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// NewBaseEvent stamps an event with a fresh id and the current time
func NewBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// PublishSaleCreated publishes SaleCreated event
func (ep *EventPublisher) PublishSaleCreated(ctx context.Context, event *models.SaleCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("sale-%d", event.SaleID), event)
}

// PublishSaleVoided publishes SaleVoided event
func (ep *EventPublisher) PublishSaleVoided(ctx context.Context, event *models.SaleVoidedEvent) error {
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("sale-%d", event.SaleID), event)
}

// PublishKitchenStatusChanged publishes KitchenStatusChanged event
func (ep *EventPublisher) PublishKitchenStatusChanged(ctx context.Context, event *models.KitchenStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("sale-%d", event.SaleID), event)
}

// PublishStockLow publishes StockLow event
func (ep *EventPublisher) PublishStockLow(ctx context.Context, event *models.StockLowEvent) error {
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("product-%d", event.ProductID), event)
}

// PublishShiftClosed publishes ShiftClosed event
func (ep *EventPublisher) PublishShiftClosed(ctx context.Context, event *models.ShiftClosedEvent) error {
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("shift-%d", event.ShiftID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onSaleCreated          func(context.Context, *models.SaleCreatedEvent) error
	onSaleVoided           func(context.Context, *models.SaleVoidedEvent) error
	onKitchenStatusChanged func(context.Context, *models.KitchenStatusChangedEvent) error
	onStockLow             func(context.Context, *models.StockLowEvent) error
	onShiftClosed          func(context.Context, *models.ShiftClosedEvent) error
	logger                 *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnSaleCreated registers a handler for SaleCreated events
func (eh *EventHandler) OnSaleCreated(handler func(context.Context, *models.SaleCreatedEvent) error) {
	eh.onSaleCreated = handler
}

// OnSaleVoided registers a handler for SaleVoided events
func (eh *EventHandler) OnSaleVoided(handler func(context.Context, *models.SaleVoidedEvent) error) {
	eh.onSaleVoided = handler
}

// OnKitchenStatusChanged registers a handler for KitchenStatusChanged events
func (eh *EventHandler) OnKitchenStatusChanged(handler func(context.Context, *models.KitchenStatusChangedEvent) error) {
	eh.onKitchenStatusChanged = handler
}

// OnStockLow registers a handler for StockLow events
func (eh *EventHandler) OnStockLow(handler func(context.Context, *models.StockLowEvent) error) {
	eh.onStockLow = handler
}

// OnShiftClosed registers a handler for ShiftClosed events
func (eh *EventHandler) OnShiftClosed(handler func(context.Context, *models.ShiftClosedEvent) error) {
	eh.onShiftClosed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID),
	)

	switch baseEvent.EventType {
	case models.EventTypeSaleCreated:
		if eh.onSaleCreated != nil {
			var event models.SaleCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SaleCreated event: %w", err)
			}
			return eh.onSaleCreated(ctx, &event)
		}

	case models.EventTypeSaleVoided:
		if eh.onSaleVoided != nil {
			var event models.SaleVoidedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SaleVoided event: %w", err)
			}
			return eh.onSaleVoided(ctx, &event)
		}

	case models.EventTypeKitchenStatusChanged:
		if eh.onKitchenStatusChanged != nil {
			var event models.KitchenStatusChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal KitchenStatusChanged event: %w", err)
			}
			return eh.onKitchenStatusChanged(ctx, &event)
		}

	case models.EventTypeStockLow:
		if eh.onStockLow != nil {
			var event models.StockLowEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal StockLow event: %w", err)
			}
			return eh.onStockLow(ctx, &event)
		}

	case models.EventTypeShiftClosed:
		if eh.onShiftClosed != nil {
			var event models.ShiftClosedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ShiftClosed event: %w", err)
			}
			return eh.onShiftClosed(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
