package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-fulfillment-orders/internal/orders"
)

// IdempotencyCache maps (user, key) to an order id.
type IdempotencyCache struct{ RDB *redis.Client }

var _ orders.IdempotencyCache = (*IdempotencyCache)(nil)

func (c *IdempotencyCache) Lookup(ctx context.Context, userID int64, key string) (int64, bool, error) {
	s, err := c.RDB.Get(ctx, fmt.Sprintf(KeyIdemOrder, userID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("idempotency entry %q: %w", s, err)
	}
	return id, true, nil
}

func (c *IdempotencyCache) Remember(ctx context.Context, userID int64, key string, orderID int64) error {
	return c.RDB.Set(ctx, fmt.Sprintf(KeyIdemOrder, userID, key), orderID, TTLIdempotency).Err()
}

// OrderCache keeps recently read orders as JSON.
type OrderCache struct{ RDB *redis.Client }

var _ orders.OrderCache = (*OrderCache)(nil)

func (c *OrderCache) Get(ctx context.Context, id int64) (orders.Order, bool, error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrder, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return orders.Order{}, false, nil
	}
	if err != nil {
		return orders.Order{}, false, err
	}
	var o orders.Order
	if err := json.Unmarshal(b, &o); err != nil {
		return orders.Order{}, false, fmt.Errorf("decode cached order %d: %w", id, err)
	}
	return o, true, nil
}

func (c *OrderCache) Set(ctx context.Context, o orders.Order) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyOrder, o.ID), b, TTLOrderCache).Err()
}

func (c *OrderCache) Forget(ctx context.Context, id int64) error {
	return c.RDB.Del(ctx, fmt.Sprintf(KeyOrder, id)).Err()
}
