package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/arrow3/storefront/internal/kafka"
)

// EventBus carries the core's post-commit notifications. Consumers are
// best-effort; a publish failure never rolls back order state.
type EventBus interface {
	OrderCreated(ctx context.Context, o *Order) error
	StatusChanged(ctx context.Context, o *Order, from Status, entry StatusEntry) error
	OrderCancelled(ctx context.Context, o *Order, actor string) error
	PaymentReconciled(ctx context.Context, o *Order) error
}

type KafkaBus struct {
	Created     *kafkax.Producer
	Status      *kafkax.Producer
	Cancelled   *kafkax.Producer
	Payment     *kafkax.Producer
	ServiceName string
}

var _ EventBus = (*KafkaBus)(nil)

func (b *KafkaBus) OrderCreated(ctx context.Context, o *Order) error {
	return b.publish(b.Created, EventOrderCreated, o.ID, OrderCreatedPayload{
		OrderID:          o.ID,
		DroneID:          o.DroneID,
		UserID:           o.UserID,
		Quantity:         o.Quantity,
		TotalAmountCents: o.TotalAmountCents,
	})
}

func (b *KafkaBus) StatusChanged(ctx context.Context, o *Order, from Status, entry StatusEntry) error {
	return b.publish(b.Status, EventStatusChanged, o.ID, StatusChangedPayload{
		OrderID:           o.ID,
		From:              from,
		To:                o.Status,
		UpdatedBy:         entry.UpdatedBy,
		Notes:             entry.Notes,
		EstimatedDelivery: o.EstimatedDelivery,
		CustomerName:      o.Customer.Name,
		CustomerEmail:     o.Customer.Email,
	})
}

func (b *KafkaBus) OrderCancelled(ctx context.Context, o *Order, actor string) error {
	return b.publish(b.Cancelled, EventOrderCancelled, o.ID, OrderCancelledPayload{
		OrderID:       o.ID,
		DroneID:       o.DroneID,
		Quantity:      o.Quantity,
		CancelledBy:   actor,
		StockRestored: o.StockRestored,
	})
}

func (b *KafkaBus) PaymentReconciled(ctx context.Context, o *Order) error {
	return b.publish(b.Payment, EventPaymentReconciled, o.ID, PaymentReconciledPayload{
		OrderID:         o.ID,
		PaymentIntentID: o.PaymentIntentID,
		PaymentStatus:   o.PaymentStatus,
	})
}

func (b *KafkaBus) publish(p *kafkax.Producer, eventType, orderID string, payload any) error {
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      b.ServiceName,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	return nil
}
