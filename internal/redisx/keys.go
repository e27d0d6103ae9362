package redisx

import "time"

const (
	// Cache order status: order_status:{order_id} -> {"status": "...", ...}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Per-IP rate limit counter: rate_limit:{ip}
	KeyRateLimit = "rate_limit:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
