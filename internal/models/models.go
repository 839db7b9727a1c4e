package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Actor is the request-scoped caller passed into every core operation.
// Authorized is decided by the auth layer for the operation at hand.
type Actor struct {
	ID         int64  `json:"id"`
	Name       string `json:"name,omitempty"`
	Authorized bool   `json:"-"`
}

// Product represents a stocked item
type Product struct {
	ID           int64           `db:"id" json:"id"`
	Code         string          `db:"code" json:"code"`
	Name         string          `db:"name" json:"name"`
	Unit         string          `db:"unit" json:"unit"`
	Quantity     decimal.Decimal `db:"quantity" json:"quantity"`
	ReorderLevel decimal.Decimal `db:"reorder_level" json:"reorder_level"`
	CostPrice    decimal.Decimal `db:"cost_price" json:"cost_price"`
	SellPrice    decimal.Decimal `db:"sell_price" json:"sell_price"`
	IsActive     bool            `db:"is_active" json:"is_active"`
	StockFrozen  bool            `db:"stock_frozen" json:"stock_frozen"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// BelowReorder reports whether the on-hand quantity reached the reorder threshold.
func (p *Product) BelowReorder() bool {
	return p.ReorderLevel.IsPositive() && p.Quantity.LessThanOrEqual(p.ReorderLevel)
}

// StockMovement is an immutable ledger entry
type StockMovement struct {
	ID            int64           `db:"id" json:"id"`
	ProductID     int64           `db:"product_id" json:"product_id"`
	Type          MovementType    `db:"type" json:"type"`
	Quantity      decimal.Decimal `db:"quantity" json:"quantity"`
	BalanceAfter  decimal.Decimal `db:"balance_after" json:"balance_after"`
	ReferenceType ReferenceType   `db:"reference_type" json:"reference_type"`
	ReferenceID   *int64          `db:"reference_id" json:"reference_id,omitempty"`
	Reason        string          `db:"reason" json:"reason"`
	ActorID       int64           `db:"actor_id" json:"actor_id"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Signed returns the quantity with the sign of the movement direction.
func (m *StockMovement) Signed() decimal.Decimal {
	if m.Type == MovementOut {
		return m.Quantity.Neg()
	}
	return m.Quantity
}

// Sale is a committed order
type Sale struct {
	ID               int64           `db:"id" json:"id"`
	ReceiptNumber    string          `db:"receipt_number" json:"receipt_number"`
	OrderNumber      int64           `db:"order_number" json:"order_number"`
	CashierID        int64           `db:"cashier_id" json:"cashier_id"`
	ShiftID          int64           `db:"shift_id" json:"shift_id"`
	OrderType        OrderType       `db:"order_type" json:"order_type"`
	TableNumber      string          `db:"table_number" json:"table_number,omitempty"`
	CustomerName     string          `db:"customer_name" json:"customer_name,omitempty"`
	CustomerPhone    string          `db:"customer_phone" json:"customer_phone,omitempty"`
	CustomerAddress  string          `db:"customer_address" json:"customer_address,omitempty"`
	Subtotal         decimal.Decimal `db:"subtotal" json:"subtotal"`
	Discount         decimal.Decimal `db:"discount" json:"discount"`
	DeliveryFee      decimal.Decimal `db:"delivery_fee" json:"delivery_fee"`
	Total            decimal.Decimal `db:"total" json:"total"`
	PaymentMethod    PaymentMethod   `db:"payment_method" json:"payment_method"`
	KitchenStatus    KitchenStatus   `db:"kitchen_status" json:"kitchen_status"`
	KitchenUpdatedAt *time.Time      `db:"kitchen_updated_at" json:"kitchen_updated_at,omitempty"`
	IdempotencyKey   string          `db:"idempotency_key" json:"-"`
	RequestHash      string          `db:"request_hash" json:"-"`
	Voided           bool            `db:"voided" json:"voided"`
	VoidReason       string          `db:"void_reason" json:"void_reason,omitempty"`
	VoidedAt         *time.Time      `db:"voided_at" json:"voided_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`

	Items []SaleItem `db:"-" json:"items,omitempty"`
}

// SaleItem is a line of a sale. It defines how much stock was deducted.
type SaleItem struct {
	ID          int64           `db:"id" json:"id"`
	SaleID      int64           `db:"sale_id" json:"sale_id"`
	ProductID   int64           `db:"product_id" json:"product_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	Quantity    decimal.Decimal `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal   decimal.Decimal `db:"line_total" json:"line_total"`
}

// HeldOrder is a parked order owned by one cashier
type HeldOrder struct {
	ID        int64     `db:"id" json:"id"`
	CashierID int64     `db:"cashier_id" json:"cashier_id"`
	Payload   []byte    `db:"payload" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Table is a dine-in table
type Table struct {
	ID          int64       `db:"id" json:"id"`
	TableNumber string      `db:"table_number" json:"table_number"`
	Capacity    int         `db:"capacity" json:"capacity"`
	Status      TableStatus `db:"status" json:"status"`
	StatusNotes string      `db:"status_notes" json:"status_notes,omitempty"`
	ReservedFor string      `db:"reserved_for" json:"reserved_for,omitempty"`
	ReservedAt  *time.Time  `db:"reserved_at" json:"reserved_at,omitempty"`
	IsActive    bool        `db:"is_active" json:"is_active"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// Shift is a cashier's cash-drawer session
type Shift struct {
	ID             int64               `db:"id" json:"id"`
	CashierID      int64               `db:"cashier_id" json:"cashier_id"`
	StartTime      time.Time           `db:"start_time" json:"start_time"`
	EndTime        *time.Time          `db:"end_time" json:"end_time,omitempty"`
	IsClosed       bool                `db:"is_closed" json:"is_closed"`
	OpeningBalance decimal.Decimal     `db:"opening_balance" json:"opening_balance"`
	TotalSales     decimal.Decimal     `db:"total_sales" json:"total_sales"`
	CashSales      decimal.Decimal     `db:"cash_sales" json:"cash_sales"`
	SaleCount      int64               `db:"sale_count" json:"sale_count"`
	ExpectedCash   decimal.NullDecimal `db:"expected_cash" json:"expected_cash"`
	PhysicalCash   decimal.NullDecimal `db:"physical_cash" json:"physical_cash"`
	ShortageExtra  decimal.NullDecimal `db:"shortage_extra" json:"shortage_extra"`
	ClosedBy       *int64              `db:"closed_by" json:"closed_by,omitempty"`
}

// Duration is the full elapsed time of the shift, including day boundaries.
func (s *Shift) Duration(now time.Time) time.Duration {
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	if end.Before(s.StartTime) {
		return 0
	}
	return end.Sub(s.StartTime)
}

// KitchenLog is one kitchen status transition
type KitchenLog struct {
	ID        int64         `db:"id" json:"id"`
	SaleID    int64         `db:"sale_id" json:"sale_id"`
	Status    KitchenStatus `db:"status" json:"status"`
	ActorID   int64         `db:"actor_id" json:"actor_id"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// KitchenTicket is a kitchen board entry: an unfinished sale with its items
type KitchenTicket struct {
	SaleID        int64         `json:"sale_id"`
	OrderNumber   int64         `json:"order_number"`
	OrderType     OrderType     `json:"order_type"`
	TableNumber   string        `json:"table_number,omitempty"`
	KitchenStatus KitchenStatus `json:"kitchen_status"`
	CreatedAt     time.Time     `json:"created_at"`
	Items         []SaleItem    `json:"items"`
}
