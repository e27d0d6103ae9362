package orders

import "context"

// Store is the persistence boundary for the order core. The pgx
// implementation lives in repo.go / repo_lifecycle.go; tests use an
// in-memory fake with the same conditional-update semantics.
type Store interface {
	CreateDrone(ctx context.Context, d *Drone) error
	GetDrone(ctx context.Context, id string) (*Drone, error)
	ListDrones(ctx context.Context) ([]Drone, error)

	// CreateOrderReservingStock inserts the order and decrements the
	// drone's stock in one transaction. It fills o.TotalAmountCents from
	// the drone's price. Fails with ErrDroneNotFound, ErrDroneUnavailable
	// or ErrInsufficientStock; on any failure nothing is persisted.
	CreateOrderReservingStock(ctx context.Context, o *Order) error

	GetOrder(ctx context.Context, id string) (*Order, error)
	GetOrderByPaymentIntent(ctx context.Context, intentID string) (*Order, error)

	// ApplyTransition persists o's status, delivery dates and the new
	// history entry, guarded by the order still being in `from`. Zero
	// affected rows surface as ErrConcurrencyConflict.
	ApplyTransition(ctx context.Context, o *Order, from Status, entry StatusEntry) error

	// CancelRestoringStock flips the order to cancelled and restores the
	// drone's stock in one transaction. The order update is conditional on
	// the current status being cancellable and stock not already restored,
	// so a replayed cancellation is a no-op failing with ErrNotCancellable.
	CancelRestoringStock(ctx context.Context, o *Order, entry StatusEntry, pay PaymentStatus) error

	// AttachPaymentIntent sets the intent id at most once. Re-attaching
	// the same id is a no-op; a different id fails with ErrPaymentIntentSet.
	AttachPaymentIntent(ctx context.Context, orderID, intentID string) error

	// SetPaymentStatus updates payment_status unless it is already
	// completed. Returns false when no row changed (replay).
	SetPaymentStatus(ctx context.Context, orderID string, to PaymentStatus) (bool, error)
}
