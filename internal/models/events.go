package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeGatewayCallback    = "GATEWAY_CALLBACK"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published once per order of a fan-out
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	GroupID     string          `json:"group_id"`
	PurchaserID int64           `json:"purchaser_id"`
	MovieID     int64           `json:"movie_id"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

// OrderStatusChangedEvent published after a committed transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID     int64       `json:"order_id"`
	GroupID     string      `json:"group_id"`
	PurchaserID int64       `json:"purchaser_id"`
	From        OrderStatus `json:"from"`
	To          OrderStatus `json:"to"`
	Cascaded    bool        `json:"cascaded"`
}

// Callback event types delivered by payment providers
const (
	CallbackPlaced   = "placed"
	CallbackSettled  = "settled"
	CallbackDisputed = "disputed"
)

// GatewayCallback is a payment provider notification about one order
type GatewayCallback struct {
	BaseEvent
	CallbackType    string          `json:"status" binding:"required"`
	ProviderOrderID string          `json:"order_id" binding:"required"`
	PurchaserID     int64           `json:"buyer"`
	MovieID         int64           `json:"movie_id"`
	Amount          decimal.Decimal `json:"amount"`
	Tax             decimal.Decimal `json:"tax"`
	ZipCode         string          `json:"zip_code"`
	CouponCode      string          `json:"coupon_code,omitempty"`
}

// DedupeKey identifies the (provider order, event type) pair a callback applies to
func (c *GatewayCallback) DedupeKey() string {
	return c.ProviderOrderID + ":" + c.CallbackType
}
