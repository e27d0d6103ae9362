package orders

import "time"

type Drone struct {
	ID            string
	Name          string
	PriceCents    int
	StockQuantity int
	InStock       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Order struct {
	ID               string
	DroneID          string
	UserID           string
	Quantity         int
	TotalAmountCents int
	Status           Status
	PaymentStatus    PaymentStatus
	PaymentIntentID  string // set at most once; empty until a payment is initiated

	// StockRestored guards against restoring the drone's stock twice for
	// the same cancelled order.
	StockRestored bool

	OrderDate         time.Time
	EstimatedDelivery *time.Time
	ActualDelivery    *time.Time

	Shipping ShippingAddress
	Customer CustomerInfo

	// History is append-only; entries are never mutated or removed.
	History []StatusEntry

	CreatedAt time.Time
	UpdatedAt time.Time
}

type StatusEntry struct {
	Status    Status
	Timestamp time.Time
	UpdatedBy string
	Notes     string
}

type ShippingAddress struct {
	Line1      string `json:"line1"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type CustomerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

const (
	MinOrderQuantity = 1
	MaxOrderQuantity = 10
)
