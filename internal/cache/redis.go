// Package cache keeps read-through snapshots of orders keyed by their
// payment intent id. The order ledger stays the source of truth; every
// status transition invalidates the snapshot.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"storefront/internal/domain"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

type OrderCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewOrderCache(rdb *redis.Client) *OrderCache {
	return &OrderCache{rdb: rdb, ttl: TTLOrderSnapshot}
}

func key(paymentIntentID string) string { return fmt.Sprintf(KeyOrderByIntent, paymentIntentID) }

// Get returns ok=false on a miss.
func (c *OrderCache) Get(ctx context.Context, paymentIntentID string) (*domain.Order, bool, error) {
	b, err := c.rdb.Get(ctx, key(paymentIntentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get order snapshot")
	}
	var o domain.Order
	if err := json.Unmarshal(b, &o); err != nil {
		return nil, false, errors.Wrap(err, "decode order snapshot")
	}
	return &o, true, nil
}

func (c *OrderCache) Set(ctx context.Context, o *domain.Order) error {
	b, err := json.Marshal(o)
	if err != nil {
		return errors.Wrap(err, "encode order snapshot")
	}
	return errors.Wrap(c.rdb.Set(ctx, key(o.PaymentIntentID), b, c.ttl).Err(), "redis set order snapshot")
}

func (c *OrderCache) Invalidate(ctx context.Context, paymentIntentID string) error {
	return errors.Wrap(c.rdb.Del(ctx, key(paymentIntentID)).Err(), "redis del order snapshot")
}
