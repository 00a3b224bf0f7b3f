package cache

import "time"

const (
	// Snapshot order by payment intent: order:intent:{payment_intent_id} -> order json
	KeyOrderByIntent = "order:intent:%s"
)

var TTLOrderSnapshot = 5 * time.Minute
