package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GatewayActor is recorded as updated_by for transitions driven by
// payment reconciliation rather than a person.
const GatewayActor = "payment-gateway"

type Service struct {
	store Store
	bus   EventBus
	log   *zap.Logger
	now   func() time.Time
}

func NewService(store Store, bus EventBus, log *zap.Logger) *Service {
	return &Service{store: store, bus: bus, log: log, now: time.Now}
}

type CreateOrderInput struct {
	UserID   string
	DroneID  string
	Quantity int
	Shipping ShippingAddress
	Customer CustomerInfo
}

// CreateOrder validates availability, persists the order and reserves
// stock as one unit, then publishes OrderCreated best-effort.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	if in.Quantity < MinOrderQuantity || in.Quantity > MaxOrderQuantity {
		return nil, ErrQuantityInvalid
	}
	now := s.now().UTC()
	o := &Order{
		ID:            uuid.NewString(),
		DroneID:       in.DroneID,
		UserID:        in.UserID,
		Quantity:      in.Quantity,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		OrderDate:     now,
		Shipping:      in.Shipping,
		Customer:      in.Customer,
		History: []StatusEntry{{
			Status:    StatusPending,
			Timestamp: now,
			UpdatedBy: in.UserID,
			Notes:     "Order created",
		}},
	}
	if err := s.store.CreateOrderReservingStock(ctx, o); err != nil {
		return nil, err
	}
	s.emit(func() error { return s.bus.OrderCreated(ctx, o) })
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	return s.store.GetOrder(ctx, id)
}

// TransitionStatus moves an order along the status graph. A cancellation
// target is routed through CancelOrder so stock restoration cannot be
// skipped.
func (s *Service) TransitionStatus(ctx context.Context, orderID string, to Status, actor, notes string) (*Order, error) {
	if !ValidStatus(to) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, string(to))
	}
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if to == StatusCancelled {
		return s.cancel(ctx, o, actor, notes, true)
	}
	return s.transition(ctx, o, to, actor, notes)
}

func (s *Service) transition(ctx context.Context, o *Order, to Status, actor, notes string) (*Order, error) {
	from := o.Status
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := s.now().UTC()
	upd := *o
	upd.Status = to
	switch to {
	case StatusConfirmed:
		if upd.EstimatedDelivery == nil {
			t := upd.OrderDate.AddDate(0, 0, DeliveryLeadDays)
			upd.EstimatedDelivery = &t
		}
	case StatusDelivered:
		if upd.PaymentStatus != PaymentCompleted {
			return nil, ErrInconsistentPaymentState
		}
		upd.ActualDelivery = &now
	}

	entry := StatusEntry{Status: to, Timestamp: now, UpdatedBy: actor, Notes: notes}
	if err := s.store.ApplyTransition(ctx, &upd, from, entry); err != nil {
		return nil, err
	}
	upd.History = append(upd.History, entry)

	s.emit(func() error { return s.bus.StatusChanged(ctx, &upd, from, entry) })
	return &upd, nil
}

// CancelOrder cancels on behalf of the customer (eligibility enforced) or
// an admin (eligibility bypassed; a completed payment is marked refunded).
func (s *Service) CancelOrder(ctx context.Context, orderID, actor, notes string, asAdmin bool) (*Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, o, actor, notes, asAdmin)
}

func (s *Service) cancel(ctx context.Context, o *Order, actor, notes string, asAdmin bool) (*Order, error) {
	from := o.Status
	if !CanTransition(from, StatusCancelled) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, StatusCancelled)
	}
	if !asAdmin && !o.CanBeCancelled() {
		return nil, ErrNotCancellable
	}

	pay := o.PaymentStatus
	if asAdmin && pay == PaymentCompleted {
		pay = PaymentRefunded
	}

	now := s.now().UTC()
	if notes == "" {
		notes = "Order cancelled"
	}
	entry := StatusEntry{Status: StatusCancelled, Timestamp: now, UpdatedBy: actor, Notes: notes}
	if err := s.store.CancelRestoringStock(ctx, o, entry, pay); err != nil {
		return nil, err
	}

	upd := *o
	upd.Status = StatusCancelled
	upd.PaymentStatus = pay
	upd.StockRestored = true
	upd.History = append(upd.History, entry)

	s.emit(func() error { return s.bus.StatusChanged(ctx, &upd, from, entry) })
	s.emit(func() error { return s.bus.OrderCancelled(ctx, &upd, actor) })
	return &upd, nil
}

// AttachPaymentIntent links a payment attempt to the order, at most once.
func (s *Service) AttachPaymentIntent(ctx context.Context, orderID, intentID string) (*Order, error) {
	if err := s.store.AttachPaymentIntent(ctx, orderID, intentID); err != nil {
		return nil, err
	}
	return s.store.GetOrder(ctx, orderID)
}

// ReconcilePayment applies a payment outcome exactly once. A replay of a
// completed intent is a no-op success. Stock is never touched here; it was
// reserved at creation and only cancellation gives it back.
func (s *Service) ReconcilePayment(ctx context.Context, intentID string, succeeded bool) (*Order, error) {
	o, err := s.store.GetOrderByPaymentIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus == PaymentCompleted {
		// replay; repair the confirm step in case an earlier attempt
		// crashed between the payment write and the transition
		return s.confirmAfterPayment(ctx, o)
	}

	if !succeeded {
		if _, err := s.store.SetPaymentStatus(ctx, o.ID, PaymentFailed); err != nil {
			return nil, err
		}
		// a failed payment does not cancel the order; the customer may retry
		o.PaymentStatus = PaymentFailed
		s.emit(func() error { return s.bus.PaymentReconciled(ctx, o) })
		return o, nil
	}

	if _, err := s.store.SetPaymentStatus(ctx, o.ID, PaymentCompleted); err != nil {
		return nil, err
	}
	o.PaymentStatus = PaymentCompleted

	o, err = s.confirmAfterPayment(ctx, o)
	if err != nil {
		return nil, err
	}

	s.emit(func() error { return s.bus.PaymentReconciled(ctx, o) })
	return o, nil
}

// confirmAfterPayment moves a still-pending order to confirmed once its
// payment completed. Losing the transition race to another request is
// fine; the payment itself already applied.
func (s *Service) confirmAfterPayment(ctx context.Context, o *Order) (*Order, error) {
	if o.Status != StatusPending {
		return o, nil
	}
	upd, err := s.transition(ctx, o, StatusConfirmed, GatewayActor, "Payment completed")
	switch {
	case err == nil:
		return upd, nil
	case errors.Is(err, ErrConcurrencyConflict):
		if cur, gerr := s.store.GetOrder(ctx, o.ID); gerr == nil {
			return cur, nil
		}
		return o, nil
	default:
		return nil, err
	}
}

func (s *Service) CreateDrone(ctx context.Context, name string, priceCents, stock int) (*Drone, error) {
	if priceCents < 0 || stock < 0 {
		return nil, fmt.Errorf("price and stock must be non-negative")
	}
	d := &Drone{
		ID:            uuid.NewString(),
		Name:          name,
		PriceCents:    priceCents,
		StockQuantity: stock,
		InStock:       stock > 0,
	}
	if err := s.store.CreateDrone(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) GetDrone(ctx context.Context, id string) (*Drone, error) {
	return s.store.GetDrone(ctx, id)
}

func (s *Service) ListDrones(ctx context.Context) ([]Drone, error) {
	return s.store.ListDrones(ctx)
}

func (s *Service) emit(fn func() error) {
	if s.bus == nil {
		return
	}
	if err := fn(); err != nil {
		s.log.Warn("event publish", zap.Error(err))
	}
}
