package models

import (
	"errors"
	"fmt"
	"time"
)

type OrderType string

const (
	OrderTypeKiosk    OrderType = "kiosk"
	OrderTypeDelivery OrderType = "delivery_partner"
)

func (t OrderType) Valid() bool {
	return t == OrderTypeKiosk || t == OrderTypeDelivery
}

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusCompleted  OrderStatus = "completed"
	StatusFailed     OrderStatus = "failed"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal states have no outgoing transitions.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether an order may move from one status to
// another. Backward moves and moves out of a terminal status are never
// allowed.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type OrderItem struct {
	SKU       string  `json:"sku"`
	Title     string  `json:"title"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
}

func (i OrderItem) Validate() error {
	if i.SKU == "" {
		return errors.New("item sku is empty")
	}
	if i.Quantity < 1 {
		return fmt.Errorf("item %s: quantity must be at least 1", i.SKU)
	}
	if i.UnitPrice < 0 {
		return fmt.Errorf("item %s: negative unit price", i.SKU)
	}
	return nil
}

type Order struct {
	ID                string      `json:"id"`
	OrderType         OrderType   `json:"order_type"`
	RemoteOrderID     string      `json:"remote_order_id,omitempty"`
	RemoteOrderNumber string      `json:"remote_order_number,omitempty"`
	Items             []OrderItem `json:"items"`
	Status            OrderStatus `json:"status"`
	PickupCode        string      `json:"pickup_code,omitempty"`
	TestOrder         bool        `json:"test_order"`
	CreatedAt         time.Time   `json:"created_at"`
	ProcessedAt       *time.Time  `json:"processed_at,omitempty"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
}

const (
	ShelfMin = 1
	ShelfMax = 40
)

// ShelfAssignment maps one physical shelf to at most one active SKU.
// CurrentStock is informational only, it is not authoritative inventory.
type ShelfAssignment struct {
	ShelfNumber  int       `json:"shelf_number"`
	SKU          string    `json:"sku"`
	ProductName  string    `json:"product_name"`
	CurrentStock int       `json:"current_stock"`
	Active       bool      `json:"active"`
	LastUpdated  time.Time `json:"last_updated"`
}

func ValidShelfNumber(n int) bool {
	return n >= ShelfMin && n <= ShelfMax
}
