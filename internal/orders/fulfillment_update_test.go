package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-fulfillment-orders/internal/errs"
	"github.com/ariefcatur/go-fulfillment-orders/internal/memory"
	"github.com/ariefcatur/go-fulfillment-orders/internal/orders"
)

func TestApplyFulfillmentUpdate(t *testing.T) {
	f := newFixture(t, map[int64]int{1: 10})
	ctx := context.Background()
	o, err := f.svc.PlaceOrder(ctx, place(1, "k", line(1, 2)))
	if err != nil {
		t.Fatal(err)
	}
	worker := int64(3)

	for _, status := range []string{"ASSIGNED", "IN_PROGRESS"} {
		ok, err := f.svc.ApplyFulfillmentUpdate(ctx, o.ID, status, &worker)
		if err != nil || !ok {
			t.Fatalf("%s: ok=%v err=%v", status, ok, err)
		}
		got, _ := f.svc.GetOrder(ctx, o.ID)
		if got.Status != orders.StatusPending {
			t.Fatalf("%s: status = %s", status, got.Status)
		}
	}

	for _, status := range []string{"SHIPPED", "FAILED", "rejected"} {
		if _, err := f.svc.ApplyFulfillmentUpdate(ctx, o.ID, status, nil); errs.CodeOf(err) != errs.InvalidStatus {
			t.Fatalf("%s: err = %v, want INVALID_STATUS", status, err)
		}
		if got, err := f.svc.GetOrder(ctx, o.ID); err != nil || got.Status != orders.StatusPending {
			t.Fatalf("%s changed the order: %+v %v", status, got, err)
		}
	}

	ok, err := f.svc.ApplyFulfillmentUpdate(ctx, o.ID, "COMPLETED", &worker)
	if err != nil || !ok {
		t.Fatalf("COMPLETED: ok=%v err=%v", ok, err)
	}
	got, _ := f.svc.GetOrder(ctx, o.ID)
	if got.Status != orders.StatusCompleted {
		t.Fatalf("status = %s", got.Status)
	}

	// a completed order stays completed
	for _, status := range []string{"ASSIGNED", "REJECTED"} {
		ok, err := f.svc.ApplyFulfillmentUpdate(ctx, o.ID, status, nil)
		if err != nil || !ok {
			t.Fatalf("%s after completion: ok=%v err=%v", status, ok, err)
		}
	}
	got, err = f.svc.GetOrder(ctx, o.ID)
	if err != nil || got.Status != orders.StatusCompleted {
		t.Fatalf("after late updates: %+v %v", got, err)
	}
}

func TestApplyFulfillmentUpdateRejectedDeletesOrder(t *testing.T) {
	f := newFixture(t, map[int64]int{1: 10})
	ctx := context.Background()
	o, err := f.svc.PlaceOrder(ctx, place(1, "k", line(1, 2)))
	if err != nil {
		t.Fatal(err)
	}

	ok, err := f.svc.ApplyFulfillmentUpdate(ctx, o.ID, "REJECTED", nil)
	if err != nil || !ok {
		t.Fatalf("REJECTED: ok=%v err=%v", ok, err)
	}
	if _, err := f.svc.GetOrder(ctx, o.ID); !errors.Is(err, orders.ErrOrderNotFound) {
		t.Fatalf("order still present: %v", err)
	}
	if f.qty(t, 1) != 8 {
		t.Fatalf("stock = %d, rejection does not restock", f.qty(t, 1))
	}

	// the key is free again
	again, err := f.svc.PlaceOrder(ctx, place(1, "k", line(1, 1)))
	if err != nil || again.ID == o.ID {
		t.Fatalf("re-place after rejection: %+v %v", again, err)
	}
}

func TestApplyFulfillmentUpdateMissingOrder(t *testing.T) {
	f := newFixture(t, nil)
	for _, status := range []string{"COMPLETED", "REJECTED", "SHIPPED"} {
		ok, err := f.svc.ApplyFulfillmentUpdate(context.Background(), 404, status, nil)
		if err != nil || ok {
			t.Fatalf("%s: ok=%v err=%v, want false, nil", status, ok, err)
		}
	}
}

// flakyStore reports a concurrent status change for the first n updates.
type flakyStore struct {
	*memory.Orders
	mu sync.Mutex
	n  int
}

func (s *flakyStore) UpdateStatus(ctx context.Context, id int64, from, to orders.Status, at time.Time) error {
	s.mu.Lock()
	if s.n > 0 {
		s.n--
		s.mu.Unlock()
		return orders.ErrStatusMismatch
	}
	s.mu.Unlock()
	return s.Orders.UpdateStatus(ctx, id, from, to, at)
}

func TestApplyFulfillmentUpdateRetriesOnRace(t *testing.T) {
	inv := memory.NewInventory()
	_, _ = inv.SeedDefaults(context.Background())
	store := &flakyStore{Orders: memory.NewOrders(inv)}
	svc := orders.NewService(store, orders.Options{})
	ctx := context.Background()

	o, err := svc.PlaceOrder(ctx, place(1, "k", line(1, 1)))
	if err != nil {
		t.Fatal(err)
	}

	store.n = 2
	ok, err := svc.ApplyFulfillmentUpdate(ctx, o.ID, "COMPLETED", nil)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}

	o2, _ := svc.PlaceOrder(ctx, place(1, "k2", line(1, 1)))
	store.n = 10
	if _, err := svc.ApplyFulfillmentUpdate(ctx, o2.ID, "COMPLETED", nil); !errors.Is(err, orders.ErrStatusMismatch) {
		t.Fatalf("err = %v, want ErrStatusMismatch after retries", err)
	}
}

type mapCache struct {
	mu     sync.Mutex
	m      map[int64]orders.Order
	forgot []int64
}

func (c *mapCache) Get(_ context.Context, id int64) (orders.Order, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.m[id]
	return o, ok, nil
}

func (c *mapCache) Set(_ context.Context, o orders.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[o.ID] = o
	return nil
}

func (c *mapCache) Forget(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
	c.forgot = append(c.forgot, id)
	return nil
}

func TestGetOrderReadThroughCache(t *testing.T) {
	inv := memory.NewInventory()
	_, _ = inv.SeedDefaults(context.Background())
	cache := &mapCache{m: map[int64]orders.Order{}}
	svc := orders.NewService(memory.NewOrders(inv), orders.Options{Cache: cache})
	ctx := context.Background()

	o, err := svc.PlaceOrder(ctx, place(1, "k", line(1, 1)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetOrder(ctx, o.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := cache.m[o.ID]; !ok {
		t.Fatal("GetOrder did not populate the cache")
	}
	if _, err := svc.ApplyFulfillmentUpdate(ctx, o.ID, "COMPLETED", nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := cache.m[o.ID]; ok {
		t.Fatal("status change left a stale cache entry")
	}
	got, _ := svc.GetOrder(ctx, o.ID)
	if got.Status != orders.StatusCompleted {
		t.Fatalf("status = %s", got.Status)
	}
	if _, err := svc.GetOrder(ctx, 404); !errors.Is(err, orders.ErrOrderNotFound) {
		t.Fatalf("missing order: %v", err)
	}
}
