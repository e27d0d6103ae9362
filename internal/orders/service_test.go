package orders

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore mirrors the conditional-update semantics of the pgx store:
// guarded writes fail the same way zero affected rows would.
type memStore struct {
	mu       sync.Mutex
	drones   map[string]*Drone
	orders   map[string]*Order
	byIntent map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		drones:   map[string]*Drone{},
		orders:   map[string]*Order{},
		byIntent: map[string]string{},
	}
}

func cloneOrder(o *Order) *Order {
	c := *o
	c.History = append([]StatusEntry(nil), o.History...)
	if o.EstimatedDelivery != nil {
		t := *o.EstimatedDelivery
		c.EstimatedDelivery = &t
	}
	if o.ActualDelivery != nil {
		t := *o.ActualDelivery
		c.ActualDelivery = &t
	}
	return &c
}

func (s *memStore) CreateDrone(ctx context.Context, d *Drone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.drones[d.ID] = &cp
	return nil
}

func (s *memStore) GetDrone(ctx context.Context, id string) (*Drone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drones[id]
	if !ok {
		return nil, ErrDroneNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) ListDrones(ctx context.Context) ([]Drone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Drone, 0, len(s.drones))
	for _, d := range s.drones {
		out = append(out, *d)
	}
	return out, nil
}

func (s *memStore) CreateOrderReservingStock(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drones[o.DroneID]
	if !ok {
		return ErrDroneNotFound
	}
	if !d.InStock {
		return ErrDroneUnavailable
	}
	if d.StockQuantity < o.Quantity {
		return fmt.Errorf("%w: %d unit(s) available", ErrInsufficientStock, d.StockQuantity)
	}
	o.TotalAmountCents = d.PriceCents * o.Quantity
	d.StockQuantity -= o.Quantity
	d.InStock = d.StockQuantity > 0
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *memStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *memStore) GetOrderByPaymentIntent(ctx context.Context, intentID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byIntent[intentID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(s.orders[id]), nil
}

func (s *memStore) ApplyTransition(ctx context.Context, o *Order, from Status, entry StatusEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[o.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if cur.Status != from {
		return ErrConcurrencyConflict
	}
	cur.Status = o.Status
	cur.EstimatedDelivery = o.EstimatedDelivery
	cur.ActualDelivery = o.ActualDelivery
	cur.History = append(cur.History, entry)
	return nil
}

func (s *memStore) CancelRestoringStock(ctx context.Context, o *Order, entry StatusEntry, pay PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[o.ID]
	if !ok {
		return ErrOrderNotFound
	}
	switch cur.Status {
	case StatusPending, StatusConfirmed, StatusProcessing:
	default:
		return ErrNotCancellable
	}
	if cur.StockRestored {
		return ErrNotCancellable
	}
	cur.Status = StatusCancelled
	cur.PaymentStatus = pay
	cur.StockRestored = true
	cur.History = append(cur.History, entry)
	if d, ok := s.drones[cur.DroneID]; ok {
		d.StockQuantity += cur.Quantity
		d.InStock = true
	}
	return nil
}

func (s *memStore) AttachPaymentIntent(ctx context.Context, orderID, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	switch cur.PaymentIntentID {
	case "":
		cur.PaymentIntentID = intentID
		s.byIntent[intentID] = orderID
		return nil
	case intentID:
		return nil
	default:
		return ErrPaymentIntentSet
	}
}

func (s *memStore) SetPaymentStatus(ctx context.Context, orderID string, to PaymentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[orderID]
	if !ok {
		return false, ErrOrderNotFound
	}
	if cur.PaymentStatus == PaymentCompleted {
		return false, nil
	}
	cur.PaymentStatus = to
	return true, nil
}

// memBus records published events by kind.
type memBus struct {
	mu     sync.Mutex
	events []string
}

func (b *memBus) record(kind string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, kind)
}

func (b *memBus) count(kind string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e == kind {
			n++
		}
	}
	return n
}

func (b *memBus) OrderCreated(ctx context.Context, o *Order) error {
	b.record(EventOrderCreated)
	return nil
}

func (b *memBus) StatusChanged(ctx context.Context, o *Order, from Status, entry StatusEntry) error {
	b.record(EventStatusChanged)
	return nil
}

func (b *memBus) OrderCancelled(ctx context.Context, o *Order, actor string) error {
	b.record(EventOrderCancelled)
	return nil
}

func (b *memBus) PaymentReconciled(ctx context.Context, o *Order) error {
	b.record(EventPaymentReconciled)
	return nil
}

func newTestService(t *testing.T) (*Service, *memStore, *memBus) {
	t.Helper()
	st := newMemStore()
	bus := &memBus{}
	svc := NewService(st, bus, zap.NewNop())
	return svc, st, bus
}

func seedDrone(t *testing.T, st *memStore, price, stock int) string {
	t.Helper()
	id := uuid.NewString()
	err := st.CreateDrone(context.Background(), &Drone{
		ID:            id,
		Name:          "Falcon X2",
		PriceCents:    price,
		StockQuantity: stock,
		InStock:       stock > 0,
	})
	require.NoError(t, err)
	return id
}

func placeOrder(t *testing.T, svc *Service, droneID string, qty int) *Order {
	t.Helper()
	o, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID:   "user-1",
		DroneID:  droneID,
		Quantity: qty,
		Customer: CustomerInfo{Name: "Ada", Email: "ada@example.com"},
	})
	require.NoError(t, err)
	return o
}

func TestCreateOrderReservesStockAndComputesTotal(t *testing.T) {
	svc, st, bus := newTestService(t)
	droneID := seedDrone(t, st, 129900, 5)

	o := placeOrder(t, svc, droneID, 2)

	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.Equal(t, 259800, o.TotalAmountCents)
	require.Len(t, o.History, 1)
	assert.Equal(t, StatusPending, o.History[0].Status)
	assert.Equal(t, "user-1", o.History[0].UpdatedBy)

	d, err := st.GetDrone(context.Background(), droneID)
	require.NoError(t, err)
	assert.Equal(t, 3, d.StockQuantity)
	assert.True(t, d.InStock)

	assert.Equal(t, 1, bus.count(EventOrderCreated))
}

func TestCreateOrderDrainsStockToZero(t *testing.T) {
	svc, st, _ := newTestService(t)
	droneID := seedDrone(t, st, 100, 3)

	placeOrder(t, svc, droneID, 3)

	d, err := st.GetDrone(context.Background(), droneID)
	require.NoError(t, err)
	assert.Equal(t, 0, d.StockQuantity)
	assert.False(t, d.InStock)

	_, err = svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "user-2", DroneID: droneID, Quantity: 1,
	})
	assert.ErrorIs(t, err, ErrDroneUnavailable)
}

func TestCreateOrderQuantityBounds(t *testing.T) {
	svc, st, _ := newTestService(t)
	droneID := seedDrone(t, st, 100, 50)

	for _, qty := range []int{0, -1, 11} {
		_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
			UserID: "user-1", DroneID: droneID, Quantity: qty,
		})
		assert.ErrorIs(t, err, ErrQuantityInvalid, "qty=%d", qty)
	}

	placeOrder(t, svc, droneID, MaxOrderQuantity)
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	svc, st, _ := newTestService(t)
	droneID := seedDrone(t, st, 100, 2)

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "user-1", DroneID: droneID, Quantity: 5,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, err.Error(), "2 unit(s) available")

	// the failed attempt must not touch stock
	d, derr := st.GetDrone(context.Background(), droneID)
	require.NoError(t, derr)
	assert.Equal(t, 2, d.StockQuantity)
}

func TestCreateOrderUnknownDrone(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "user-1", DroneID: uuid.NewString(), Quantity: 1,
	})
	assert.ErrorIs(t, err, ErrDroneNotFound)
}

func TestConfirmSetsEstimatedDelivery(t *testing.T) {
	svc, st, _ := newTestService(t)
	orderDate := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return orderDate }

	droneID := seedDrone(t, st, 100, 5)
	o := placeOrder(t, svc, droneID, 1)

	upd, err := svc.TransitionStatus(context.Background(), o.ID, StatusConfirmed, "admin-1", "")
	require.NoError(t, err)
	require.NotNil(t, upd.EstimatedDelivery)
	assert.Equal(t, orderDate.AddDate(0, 0, 5), *upd.EstimatedDelivery)

	// a later transition keeps the original estimate
	upd2, err := svc.TransitionStatus(context.Background(), o.ID, StatusProcessing, "admin-1", "")
	require.NoError(t, err)
	require.NotNil(t, upd2.EstimatedDelivery)
	assert.Equal(t, *upd.EstimatedDelivery, *upd2.EstimatedDelivery)
}

func TestTransitionRejectsInvalidHops(t *testing.T) {
	svc, st, _ := newTestService(t)
	droneID := seedDrone(t, st, 100, 5)
	o := placeOrder(t, svc, droneID, 1)

	_, err := svc.TransitionStatus(context.Background(), o.ID, StatusShipped, "admin-1", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.TransitionStatus(context.Background(), o.ID, Status("lost"), "admin-1", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.TransitionStatus(context.Background(), uuid.NewString(), StatusConfirmed, "admin-1", "")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestDeliveredRequiresCompletedPayment(t *testing.T) {
	svc, st, _ := newTestService(t)
	droneID := seedDrone(t, st, 100, 5)
	o := placeOrder(t, svc, droneID, 1)

	for _, next := range []Status{StatusConfirmed, StatusProcessing, StatusShipped} {
		_, err := svc.TransitionStatus(context.Background(), o.ID, next, "admin-1", "")
		require.NoError(t, err)
	}

	_, err := svc.TransitionStatus(context.Background(), o.ID, StatusDelivered, "admin-1", "")
	assert.ErrorIs(t, err, ErrInconsistentPaymentState)

	_, err = st.SetPaymentStatus(context.Background(), o.ID, PaymentCompleted)
	require.NoError(t, err)

	upd, err := svc.TransitionStatus(context.Background(), o.ID, StatusDelivered, "admin-1", "")
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, upd.Status)
	assert.NotNil(t, upd.ActualDelivery)
}

func TestCustomerCancelRestoresStock(t *testing.T) {
	svc, st, bus := newTestService(t)
	droneID := seedDrone(t, st, 100, 5)
	o := placeOrder(t, svc, droneID, 3)

	upd, err := svc.CancelOrder(context.Background(), o.ID, "user-1", "changed my mind", false)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, upd.Status)
	assert.True(t, upd.StockRestored)
	assert.Equal(t, "changed my mind", upd.History[len(upd.History)-1].Notes)

	d, err := st.GetDrone(context.Background(), droneID)
	require.NoError(t, err)
	assert.Equal(t, 5, d.StockQuantity)

	assert.Equal(t, 1, bus.count(EventOrderCancelled))
}

func TestDoubleCancelDoesNotRestoreTwice(t *testing.T) {
	svc, st, _ := newTestService(t)
	droneID := seedDrone(t, st, 100, 5)
	o := placeOrder(t, svc, droneID, 2)

	_, err := svc.CancelOrder(context.Background(), o.ID, "user-1", "", false)
	require.NoError(t, err)

	_, err = svc.CancelOrder(context.Background(), o.ID, "user-1", "", false)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	d, derr := st.GetDrone(context.Background(), droneID)
	require.NoError(t, derr)
	assert.Equal(t, 5, d.StockQuantity)
}

func TestCustomerCannotCancelAfterPaymentOrProcessing(t *testing.T) {
	svc, st, _ := newTestService(t)
	droneID := seedDrone(t, st, 100, 5)

	paid := placeOrder(t, svc, droneID, 1)
	_, err := st.SetPaymentStatus(context.Background(), paid.ID, PaymentCompleted)
	require.NoError(t, err)
	_, err = svc.CancelOrder(context.Background(), paid.ID, "user-1", "", false)
	assert.ErrorIs(t, err, ErrNotCancellable)

	proc := placeOrder(t, svc, droneID, 1)
	_, err = svc.TransitionStatus(context.Background(), proc.ID, StatusConfirmed, "admin-1", "")
	require.NoError(t, err)
	_, err = svc.TransitionStatus(context.Background(), proc.ID, StatusProcessing, "admin-1", "")
	require.NoError(t, err)
	_, err = svc.CancelOrder(context.Background(), proc.ID, "user-1", "", false)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestAdminCancelRefundsCompletedPayment(t *testing.T) {
	svc, st, _ := newTestService(t)
	droneID := seedDrone(t, st, 100, 5)
	o := placeOrder(t, svc, droneID, 2)

	_, err := st.SetPaymentStatus(context.Background(), o.ID, PaymentCompleted)
	require.NoError(t, err)

	upd, err := svc.CancelOrder(context.Background(), o.ID, "admin-1", "defective batch", true)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, upd.Status)
	assert.Equal(t, PaymentRefunded, upd.PaymentStatus)
	assert.True(t, upd.StockRestored)
}

func TestShippedOrderCannotBeCancelled(t *testing.T) {
	svc, st, _ := newTestService(t)
	droneID := seedDrone(t, st, 100, 5)
	o := placeOrder(t, svc, droneID, 1)

	for _, next := range []Status{StatusConfirmed, StatusProcessing, StatusShipped} {
		_, err := svc.TransitionStatus(context.Background(), o.ID, next, "admin-1", "")
		require.NoError(t, err)
	}

	_, err := svc.CancelOrder(context.Background(), o.ID, "admin-1", "", true)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAttachPaymentIntent(t *testing.T) {
	svc, st, _ := newTestService(t)
	droneID := seedDrone(t, st, 100, 5)
	o := placeOrder(t, svc, droneID, 1)

	upd, err := svc.AttachPaymentIntent(context.Background(), o.ID, "pi_abc")
	require.NoError(t, err)
	assert.Equal(t, "pi_abc", upd.PaymentIntentID)

	// same id again is a no-op
	_, err = svc.AttachPaymentIntent(context.Background(), o.ID, "pi_abc")
	assert.NoError(t, err)

	_, err = svc.AttachPaymentIntent(context.Background(), o.ID, "pi_other")
	assert.ErrorIs(t, err, ErrPaymentIntentSet)
}

func TestReconcilePaymentSuccessConfirmsPendingOrder(t *testing.T) {
	svc, st, bus := newTestService(t)
	droneID := seedDrone(t, st, 100, 5)
	o := placeOrder(t, svc, droneID, 1)

	_, err := svc.AttachPaymentIntent(context.Background(), o.ID, "pi_ok")
	require.NoError(t, err)

	upd, err := svc.ReconcilePayment(context.Background(), "pi_ok", true)
	require.NoError(t, err)
	assert.Equal(t, PaymentCompleted, upd.PaymentStatus)
	assert.Equal(t, StatusConfirmed, upd.Status)
	assert.NotNil(t, upd.EstimatedDelivery)
	assert.Equal(t, GatewayActor, upd.History[len(upd.History)-1].UpdatedBy)

	assert.Equal(t, 1, bus.count(EventPaymentReconciled))
}

func TestReconcilePaymentFailureLeavesOrderOpen(t *testing.T) {
	svc, st, _ := newTestService(t)
	droneID := seedDrone(t, st, 100, 5)
	o := placeOrder(t, svc, droneID, 1)

	_, err := svc.AttachPaymentIntent(context.Background(), o.ID, "pi_bad")
	require.NoError(t, err)

	upd, err := svc.ReconcilePayment(context.Background(), "pi_bad", false)
	require.NoError(t, err)
	assert.Equal(t, PaymentFailed, upd.PaymentStatus)
	assert.Equal(t, StatusPending, upd.Status)

	d, derr := st.GetDrone(context.Background(), droneID)
	require.NoError(t, derr)
	assert.Equal(t, 4, d.StockQuantity, "failed payment must not release stock")
}

func TestReconcilePaymentReplayIsIdempotent(t *testing.T) {
	svc, st, bus := newTestService(t)
	droneID := seedDrone(t, st, 100, 5)
	o := placeOrder(t, svc, droneID, 1)

	_, err := svc.AttachPaymentIntent(context.Background(), o.ID, "pi_dup")
	require.NoError(t, err)

	first, err := svc.ReconcilePayment(context.Background(), "pi_dup", true)
	require.NoError(t, err)

	replay, err := svc.ReconcilePayment(context.Background(), "pi_dup", true)
	require.NoError(t, err)
	assert.Equal(t, first.Status, replay.Status)
	assert.Equal(t, PaymentCompleted, replay.PaymentStatus)

	// a late failure report cannot demote a completed payment
	late, err := svc.ReconcilePayment(context.Background(), "pi_dup", false)
	require.NoError(t, err)
	assert.Equal(t, PaymentCompleted, late.PaymentStatus)

	assert.Equal(t, 1, bus.count(EventPaymentReconciled))

	got, err := st.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
}

func TestReconcileReplayRepairsMissedConfirm(t *testing.T) {
	svc, st, _ := newTestService(t)
	droneID := seedDrone(t, st, 100, 5)
	o := placeOrder(t, svc, droneID, 1)

	_, err := svc.AttachPaymentIntent(context.Background(), o.ID, "pi_crash")
	require.NoError(t, err)

	// payment write landed but the confirm transition never ran
	_, err = st.SetPaymentStatus(context.Background(), o.ID, PaymentCompleted)
	require.NoError(t, err)

	upd, err := svc.ReconcilePayment(context.Background(), "pi_crash", true)
	require.NoError(t, err)
	assert.Equal(t, PaymentCompleted, upd.PaymentStatus)
	assert.Equal(t, StatusConfirmed, upd.Status)
	assert.NotNil(t, upd.EstimatedDelivery)
}

func TestReconcilePaymentUnknownIntent(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.ReconcilePayment(context.Background(), "pi_missing", true)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestConcurrentOrdersForLastUnit(t *testing.T) {
	svc, st, _ := newTestService(t)
	droneID := seedDrone(t, st, 100, 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateOrder(context.Background(), CreateOrderInput{
				UserID: fmt.Sprintf("user-%d", i), DroneID: droneID, Quantity: 1,
			})
		}(i)
	}
	wg.Wait()

	ok, failed := 0, 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			failed++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, failed)

	d, err := st.GetDrone(context.Background(), droneID)
	require.NoError(t, err)
	assert.Equal(t, 0, d.StockQuantity)
}
