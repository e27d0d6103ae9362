// Package payments is a stand-in for a real payment gateway. It issues
// intent identifiers and reports outcomes; nothing is actually charged.
package payments

import (
	"strings"

	"github.com/google/uuid"
)

type Intent struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	AmountCents int    `json:"amount_cents"`
}

type Outcome struct {
	PaymentIntentID string `json:"payment_intent_id"`
	Succeeded       bool   `json:"succeeded"`
}

type MockGateway struct{}

func NewMockGateway() *MockGateway { return &MockGateway{} }

func (g *MockGateway) CreateIntent(orderID string, amountCents int) Intent {
	return Intent{
		ID:          "pi_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		OrderID:     orderID,
		AmountCents: amountCents,
	}
}

// Charge simulates the gateway's asynchronous result. The caller picks
// the outcome, which is what makes test flows deterministic.
func (g *MockGateway) Charge(intent Intent, succeed bool) Outcome {
	return Outcome{PaymentIntentID: intent.ID, Succeeded: succeed}
}
