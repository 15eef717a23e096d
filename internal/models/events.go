package models

import "time"

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypePaymentSucceeded   = "PAYMENT_SUCCEEDED"
	EventTypePaymentFailed      = "PAYMENT_FAILED"
	EventTypePaymentCancelled   = "PAYMENT_CANCELLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is placed
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       int64  `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	Total         int64  `json:"total"`
	PaymentStatus string `json:"payment_status"`
	ETAMinutes    int    `json:"eta_minutes"`
}

// OrderStatusChangedEvent published on every status transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	ETAMinutes  int    `json:"eta_minutes,omitempty"`
}

// PaymentEvent carries a gateway-confirmed payment outcome, either from the
// webhook or republished for the reconcile worker.
type PaymentEvent struct {
	BaseEvent
	PaymentReference string `json:"payment_reference"`
	OrderID          int64  `json:"order_id,omitempty"`
	Reason           string `json:"reason,omitempty"`
}
