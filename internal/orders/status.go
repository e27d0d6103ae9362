package orders

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// DeliveryLeadDays is added to the order date (calendar days) when the
// order is first confirmed.
const DeliveryLeadDays = 5

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:  {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func IsTerminal(s Status) bool {
	return len(validNext[s]) == 0
}

func ValidStatus(s Status) bool {
	_, ok := validNext[s]
	return ok
}

// CanBeCancelled reports whether a customer may cancel the order
// themselves. Admin cancellation bypasses this and triggers a refund
// instead.
func (o *Order) CanBeCancelled() bool {
	return (o.Status == StatusPending || o.Status == StatusConfirmed) &&
		o.PaymentStatus != PaymentCompleted
}
