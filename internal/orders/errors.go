package orders

import "errors"

var (
	ErrDroneNotFound     = errors.New("drone not found")
	ErrDroneUnavailable  = errors.New("drone not available")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrQuantityInvalid   = errors.New("quantity must be between 1 and 10")

	ErrOrderNotFound            = errors.New("order not found")
	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrInconsistentPaymentState = errors.New("order cannot be delivered before payment completes")
	ErrNotCancellable           = errors.New("order can no longer be cancelled")
	ErrPaymentIntentSet         = errors.New("payment intent already attached")

	// ErrConcurrencyConflict means a guarded update matched zero rows
	// because another request changed the order first. Callers may retry.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")
)
