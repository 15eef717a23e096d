package models

import (
	"encoding/json"
	"time"
)

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusPreparing = "preparing"
	OrderStatusReady     = "ready"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// Payment statuses
const (
	PaymentStatusUnpaid     = "unpaid"
	PaymentStatusAuthorized = "authorized"
	PaymentStatusPaid       = "paid"
	PaymentStatusFailed     = "failed"
	PaymentStatusCancelled  = "cancelled"
)

// Delivery methods
const (
	DeliveryMethodDelivery = "delivery"
	DeliveryMethodPickup   = "pickup"
)

// Payment methods
const (
	PaymentMethodCard = "card"
	PaymentMethodCash = "cash"
)

// Item fulfillment statuses, used by the cashier flow to track in-store
// preparation per line. Independent of order and payment status.
const (
	FulfillmentPending   = "pending"
	FulfillmentCompleted = "completed"
)

// transitions maps each order status to the statuses reachable from it.
// completed and cancelled are terminal.
var transitions = map[string][]string{
	OrderStatusPending:   {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing: {OrderStatusReady, OrderStatusCancelled},
	OrderStatusReady:     {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted: {},
	OrderStatusCancelled: {},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status accepts no further transitions.
func IsTerminal(status string) bool {
	return status == OrderStatusCompleted || status == OrderStatusCancelled
}

// ValidStatus reports whether s is a known order status.
func ValidStatus(s string) bool {
	_, ok := transitions[s]
	return ok
}

// Order represents a customer order. All money fields are integer minor
// units (cents); conversion to major units happens only at the API and
// payment gateway boundaries.
type Order struct {
	ID               int64     `db:"id" json:"id"`
	OrderNumber      string    `db:"order_number" json:"order_number"`
	CustomerName     string    `db:"customer_name" json:"customer_name"`
	CustomerEmail    string    `db:"customer_email" json:"customer_email"`
	CustomerPhone    string    `db:"customer_phone" json:"customer_phone"`
	DeliveryMethod   string    `db:"delivery_method" json:"delivery_method"`
	DeliveryAddress  string    `db:"delivery_address" json:"-"`
	Status           string    `db:"status" json:"status"`
	Subtotal         int64     `db:"subtotal" json:"subtotal"`
	Tax              int64     `db:"tax" json:"tax"`
	DeliveryFee      int64     `db:"delivery_fee" json:"delivery_fee"`
	Total            int64     `db:"total" json:"total"`
	PaymentStatus    string    `db:"payment_status" json:"payment_status"`
	PaymentReference string    `db:"payment_reference" json:"payment_reference,omitempty"`
	CustomerNotes    string    `db:"customer_notes" json:"customer_notes,omitempty"`
	EstimatedMinutes int       `db:"estimated_time_minutes" json:"estimated_time_minutes"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// OrderItem represents one line of an order. UnitPrice is captured at order
// time and never re-read from the catalog.
type OrderItem struct {
	ID          int64  `db:"id" json:"id"`
	OrderID     int64  `db:"order_id" json:"order_id"`
	MenuItemID  int64  `db:"menu_item_id" json:"menu_item_id"`
	Quantity    int    `db:"quantity" json:"quantity"`
	UnitPrice   int64  `db:"price" json:"price"`
	Notes       string `db:"notes" json:"notes,omitempty"`
	Fulfillment string `db:"fulfillment" json:"fulfillment"`

	// Filled by joined reads only.
	ItemName string `db:"item_name" json:"item_name,omitempty"`
}

// StatusHistory is one entry of the append-only status audit trail.
type StatusHistory struct {
	ID        int64     `db:"id" json:"id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	Status    string    `db:"status" json:"status"`
	UpdatedBy string    `db:"updated_by" json:"updated_by,omitempty"`
	Notes     string    `db:"notes" json:"notes,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// MenuItem is the read-only slice of the catalog the order flow needs.
type MenuItem struct {
	ID        int64  `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	Price     int64  `db:"price" json:"price"`
	Available bool   `db:"available" json:"available"`
}

// DeliveryAddress is stored serialized as JSON text on the order row.
type DeliveryAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
}

// Encode serializes the address for storage. Empty addresses encode to "".
func (a *DeliveryAddress) Encode() (string, error) {
	if a == nil {
		return "", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeDeliveryAddress parses a stored address, returning nil for "".
func DecodeDeliveryAddress(s string) (*DeliveryAddress, error) {
	if s == "" {
		return nil, nil
	}
	var a DeliveryAddress
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// OrderDetail is the aggregate returned by order reads: the row plus its
// lines, history and structured address.
type OrderDetail struct {
	Order   Order            `json:"order"`
	Items   []OrderItem      `json:"items"`
	History []StatusHistory  `json:"history"`
	Address *DeliveryAddress `json:"delivery_address,omitempty"`
}
