package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OrderType of a sale
type OrderType string

const (
	OrderTypeDineIn   OrderType = "dine_in"
	OrderTypeTakeAway OrderType = "take_away"
	OrderTypeDelivery OrderType = "delivery"
)

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeDineIn, OrderTypeTakeAway, OrderTypeDelivery:
		return true
	default:
		return false
	}
}

// PaymentMethod of a sale
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentEWallet  PaymentMethod = "e_wallet"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentEWallet:
		return true
	default:
		return false
	}
}

// KitchenStatus is the preparation state of a sale. Values are persisted.
type KitchenStatus int

const (
	KitchenPending   KitchenStatus = 0
	KitchenCooking   KitchenStatus = 1
	KitchenReady     KitchenStatus = 2
	KitchenCancelled KitchenStatus = 3
)

var kitchenStatusNames = map[KitchenStatus]string{
	KitchenPending:   "pending",
	KitchenCooking:   "cooking",
	KitchenReady:     "ready",
	KitchenCancelled: "cancelled",
}

func (s KitchenStatus) String() string {
	if name, ok := kitchenStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("kitchen_status(%d)", int(s))
}

func (s KitchenStatus) Valid() bool {
	_, ok := kitchenStatusNames[s]
	return ok
}

// Terminal reports whether no further transition is allowed.
func (s KitchenStatus) Terminal() bool {
	switch s {
	case KitchenReady, KitchenCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo implements the forward-only preparation workflow:
// Pending -> Cooking -> Ready, and Pending|Cooking -> Cancelled.
func (s KitchenStatus) CanTransitionTo(next KitchenStatus) bool {
	switch s {
	case KitchenPending:
		return next == KitchenCooking || next == KitchenReady || next == KitchenCancelled
	case KitchenCooking:
		return next == KitchenReady || next == KitchenCancelled
	case KitchenReady, KitchenCancelled:
		return false
	default:
		return false
	}
}

// ParseKitchenStatus accepts either the name or the numeric code.
func ParseKitchenStatus(v string) (KitchenStatus, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for status, name := range kitchenStatusNames {
		if v == name || v == fmt.Sprint(int(status)) {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown kitchen status %q", v)
}

func (s KitchenStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *KitchenStatus) UnmarshalJSON(data []byte) error {
	var code int
	if err := json.Unmarshal(data, &code); err == nil {
		status := KitchenStatus(code)
		if !status.Valid() {
			return fmt.Errorf("unknown kitchen status %d", code)
		}
		*s = status
		return nil
	}

	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	status, err := ParseKitchenStatus(name)
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// MovementType is the direction of a stock movement
type MovementType string

const (
	MovementIn  MovementType = "IN"
	MovementOut MovementType = "OUT"
)

func (t MovementType) Valid() bool {
	return t == MovementIn || t == MovementOut
}

// ReferenceType names the business document behind a stock movement
type ReferenceType string

const (
	RefSale       ReferenceType = "SALE"
	RefVoid       ReferenceType = "VOID"
	RefAdjustment ReferenceType = "ADJUSTMENT"
	RefPurchase   ReferenceType = "PURCHASE"
	RefOpening    ReferenceType = "OPENING"
	RefWaste      ReferenceType = "WASTE"
)

func (r ReferenceType) Valid() bool {
	switch r {
	case RefSale, RefVoid, RefAdjustment, RefPurchase, RefOpening, RefWaste:
		return true
	default:
		return false
	}
}

// TableStatus of a dine-in table
type TableStatus string

const (
	TableAvailable TableStatus = "available"
	TableOccupied  TableStatus = "occupied"
	TableReserved  TableStatus = "reserved"
)

func (s TableStatus) Valid() bool {
	switch s {
	case TableAvailable, TableOccupied, TableReserved:
		return true
	default:
		return false
	}
}
