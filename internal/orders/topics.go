package orders

const (
	TopicOrderCreated      = "arrow3.order.created"
	TopicStatusChanged     = "arrow3.order.status.changed"
	TopicOrderCancelled    = "arrow3.order.cancelled"
	TopicPaymentReconciled = "arrow3.order.payment.reconciled"
)

// Partition key = order id, so all events for one order stay ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
