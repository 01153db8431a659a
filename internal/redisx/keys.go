package redisx

import "time"

const (
	// idem:order:{user_id}:{idempotency_key} -> order_id
	KeyIdemOrder = "idem:order:%d:%s"

	// order:{order_id} -> order JSON
	KeyOrder = "order:%d"

	// Held by the process currently sweeping pending tasks.
	KeySweepLease = "lease:fulfillment:sweep"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 5 * time.Minute
	TTLSweepLease  = 30 * time.Second
)
