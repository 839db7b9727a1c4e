package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeSaleCreated          = "SALE_CREATED"
	EventTypeSaleVoided           = "SALE_VOIDED"
	EventTypeKitchenStatusChanged = "KITCHEN_STATUS_CHANGED"
	EventTypeStockLow             = "STOCK_LOW"
	EventTypeShiftClosed          = "SHIFT_CLOSED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SaleCreatedEvent published after a sale commits
type SaleCreatedEvent struct {
	BaseEvent
	SaleID        int64           `json:"sale_id"`
	ReceiptNumber string          `json:"receipt_number"`
	OrderNumber   int64           `json:"order_number"`
	CashierID     int64           `json:"cashier_id"`
	ShiftID       int64           `json:"shift_id"`
	OrderType     OrderType       `json:"order_type"`
	TableNumber   string          `json:"table_number,omitempty"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Items         []SaleItemData  `json:"items"`
}

// SaleVoidedEvent published after a sale is voided and its stock returned
type SaleVoidedEvent struct {
	BaseEvent
	SaleID    int64           `json:"sale_id"`
	CashierID int64           `json:"cashier_id"`
	Total     decimal.Decimal `json:"total"`
	Reason    string          `json:"reason"`
	ActorID   int64           `json:"actor_id"`
}

// KitchenStatusChangedEvent published on every kitchen transition
type KitchenStatusChangedEvent struct {
	BaseEvent
	SaleID  int64         `json:"sale_id"`
	From    KitchenStatus `json:"from"`
	To      KitchenStatus `json:"to"`
	ActorID int64         `json:"actor_id"`
}

// StockLowEvent published when a product reaches its reorder level
type StockLowEvent struct {
	BaseEvent
	ProductID    int64           `json:"product_id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Quantity     decimal.Decimal `json:"quantity"`
	ReorderLevel decimal.Decimal `json:"reorder_level"`
	MovementID   int64           `json:"movement_id"`
}

// ShiftClosedEvent published with the reconciliation snapshot
type ShiftClosedEvent struct {
	BaseEvent
	ShiftID       int64           `json:"shift_id"`
	CashierID     int64           `json:"cashier_id"`
	TotalSales    decimal.Decimal `json:"total_sales"`
	ExpectedCash  decimal.Decimal `json:"expected_cash"`
	PhysicalCash  decimal.Decimal `json:"physical_cash"`
	ShortageExtra decimal.Decimal `json:"shortage_extra"`
}

// SaleItemData represents item data in events
type SaleItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
