package redisx

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-fulfillment-orders/internal/inventory"
	"github.com/ariefcatur/go-fulfillment-orders/internal/orders"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := New(addr)
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestIdempotencyCache(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	ctx := context.Background()
	c := &IdempotencyCache{RDB: client}

	key := fmt.Sprintf("test-%d", time.Now().UnixNano())
	defer client.Del(ctx, fmt.Sprintf(KeyIdemOrder, 1, key))

	if _, ok, err := c.Lookup(ctx, 1, key); err != nil || ok {
		t.Fatalf("lookup before remember: ok=%v err=%v", ok, err)
	}
	if err := c.Remember(ctx, 1, key, 99); err != nil {
		t.Fatalf("remember: %v", err)
	}
	id, ok, err := c.Lookup(ctx, 1, key)
	if err != nil || !ok || id != 99 {
		t.Fatalf("lookup = %d %v %v", id, ok, err)
	}
	if _, ok, _ := c.Lookup(ctx, 2, key); ok {
		t.Fatal("keys must be scoped per user")
	}
}

func TestOrderCache(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	ctx := context.Background()
	c := &OrderCache{RDB: client}

	o := orders.Order{
		ID:             time.Now().UnixNano(),
		UserID:         3,
		IdempotencyKey: "k",
		Status:         orders.StatusPending,
		Items:          []inventory.Line{{ProductID: 1, Qty: 2}},
	}
	defer c.Forget(ctx, o.ID)

	if err := c.Set(ctx, o); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, o.ID)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Status != orders.StatusPending || len(got.Items) != 1 || got.Items[0].Qty != 2 {
		t.Fatalf("got %+v", got)
	}
	if err := c.Forget(ctx, o.ID); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if _, ok, _ := c.Get(ctx, o.ID); ok {
		t.Fatal("order still cached after Forget")
	}
}

func TestLeaseIsExclusive(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	ctx := context.Background()

	key := fmt.Sprintf("lease:test:%d", time.Now().UnixNano())
	a := &Lease{RDB: client, Key: key, TTL: 5 * time.Second}
	b := &Lease{RDB: client, Key: key, TTL: 5 * time.Second}
	defer client.Del(ctx, key)

	release, ok, err := a.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if _, ok, err := b.Acquire(ctx); err != nil || ok {
		t.Fatalf("second acquire should fail: ok=%v err=%v", ok, err)
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	releaseB, ok, err := b.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}

	// a stale release must not drop b's lease
	if err := release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if n, _ := client.Exists(ctx, key).Result(); n != 1 {
		t.Fatal("stale release removed the current holder's lease")
	}
	_ = releaseB(ctx)
}
