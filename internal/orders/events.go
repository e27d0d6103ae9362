package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated      = "OrderCreated"
	EventStatusChanged     = "OrderStatusChanged"
	EventOrderCancelled    = "OrderCancelled"
	EventPaymentReconciled = "PaymentReconciled"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID          string `json:"order_id"`
	DroneID          string `json:"drone_id"`
	UserID           string `json:"user_id"`
	Quantity         int    `json:"quantity"`
	TotalAmountCents int    `json:"total_amount_cents"`
}

type StatusChangedPayload struct {
	OrderID           string     `json:"order_id"`
	From              Status     `json:"from"`
	To                Status     `json:"to"`
	UpdatedBy         string     `json:"updated_by"`
	Notes             string     `json:"notes,omitempty"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	CustomerName      string     `json:"customer_name"`
	CustomerEmail     string     `json:"customer_email"`
}

type OrderCancelledPayload struct {
	OrderID       string `json:"order_id"`
	DroneID       string `json:"drone_id"`
	Quantity      int    `json:"quantity"`
	CancelledBy   string `json:"cancelled_by"`
	StockRestored bool   `json:"stock_restored"`
}

type PaymentReconciledPayload struct {
	OrderID         string        `json:"order_id"`
	PaymentIntentID string        `json:"payment_intent_id"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
}
