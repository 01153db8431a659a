package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ariefcatur/go-fulfillment-orders/internal/errs"
	"github.com/ariefcatur/go-fulfillment-orders/internal/inventory"
	"github.com/ariefcatur/go-fulfillment-orders/internal/memory"
	"github.com/ariefcatur/go-fulfillment-orders/internal/metrics"
	"github.com/ariefcatur/go-fulfillment-orders/internal/orders"
)

type fakeFulfillment struct {
	mu      sync.Mutex
	block   chan struct{}
	err     error
	orders  []int64
	ctxErrs []error
}

func (f *fakeFulfillment) RequestTask(ctx context.Context, orderID int64) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, orderID)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return f.err
}

func (f *fakeFulfillment) requested() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.orders...)
}

type fixture struct {
	svc     *orders.Service
	inv     *memory.Inventory
	store   *memory.Orders
	ff      *fakeFulfillment
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, stock map[int64]int) *fixture {
	t.Helper()
	inv := memory.NewInventory()
	var recs []inventory.Record
	for id, qty := range stock {
		recs = append(recs, inventory.Record{ProductID: id, AvailableQty: qty})
	}
	if err := inv.Seed(context.Background(), recs); err != nil {
		t.Fatal(err)
	}
	store := memory.NewOrders(inv)
	ff := &fakeFulfillment{}
	m := metrics.New(prometheus.NewRegistry())
	svc := orders.NewService(store, orders.Options{Fulfillment: ff, Metrics: m})
	return &fixture{svc: svc, inv: inv, store: store, ff: ff, metrics: m}
}

func (f *fixture) qty(t *testing.T, productID int64) int {
	t.Helper()
	rec, err := f.inv.Get(context.Background(), productID)
	if err != nil {
		t.Fatalf("inventory %d: %v", productID, err)
	}
	return rec.AvailableQty
}

func place(userID int64, key string, lines ...inventory.Line) orders.PlaceOrderInput {
	return orders.PlaceOrderInput{UserID: userID, IdempotencyKey: key, Items: lines}
}

func line(productID int64, qty int) inventory.Line {
	return inventory.Line{ProductID: productID, Qty: qty}
}

func TestPlaceOrderReservesStock(t *testing.T) {
	f := newFixture(t, map[int64]int{1: 10, 2: 5})
	ctx := context.Background()

	o, err := f.svc.PlaceOrder(ctx, place(7, "k1", line(1, 3), line(2, 5)))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if o.ID == 0 || o.Status != orders.StatusPending || len(o.Items) != 2 {
		t.Fatalf("order = %+v", o)
	}
	if f.qty(t, 1) != 7 || f.qty(t, 2) != 0 {
		t.Fatalf("stock = %d/%d", f.qty(t, 1), f.qty(t, 2))
	}

	f.svc.Wait()
	if got := f.ff.requested(); len(got) != 1 || got[0] != o.ID {
		t.Fatalf("fulfillment requests = %v", got)
	}
	if v := testutil.ToFloat64(f.metrics.OrdersPlaced.WithLabelValues("created")); v != 1 {
		t.Fatalf("created counter = %v", v)
	}
}

func TestPlaceOrderReplaysSameKey(t *testing.T) {
	f := newFixture(t, map[int64]int{1: 10})
	ctx := context.Background()

	first, err := f.svc.PlaceOrder(ctx, place(7, "k1", line(1, 4)))
	if err != nil {
		t.Fatal(err)
	}
	// the replay is answered from the stored order, whatever the new body says
	again, err := f.svc.PlaceOrder(ctx, place(7, " k1 ", line(1, 1)))
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID || again.Items[0].Qty != 4 {
		t.Fatalf("replay = %+v, want order %d", again, first.ID)
	}
	if f.qty(t, 1) != 6 {
		t.Fatalf("stock = %d, replay must not reserve again", f.qty(t, 1))
	}

	other, err := f.svc.PlaceOrder(ctx, place(8, "k1", line(1, 1)))
	if err != nil {
		t.Fatal(err)
	}
	if other.ID == first.ID {
		t.Fatal("keys are scoped per user")
	}

	f.svc.Wait()
	if got := f.ff.requested(); len(got) != 2 {
		t.Fatalf("fulfillment requests = %v, replay must not request again", got)
	}
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	f := newFixture(t, map[int64]int{1: 10})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.PlaceOrder(ctx, place(int64(i+1), "buy", line(1, 6)))
		}(i)
	}
	wg.Wait()

	ok, short := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errs.CodeOf(err) == errs.InsufficientStock:
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || short != 1 {
		t.Fatalf("ok=%d insufficient=%d", ok, short)
	}
	if f.qty(t, 1) != 4 {
		t.Fatalf("stock = %d, want 4", f.qty(t, 1))
	}
}

func TestConcurrentSameKeyCreatesOneOrder(t *testing.T) {
	f := newFixture(t, map[int64]int{1: 10})
	ctx := context.Background()

	// both callers miss the replay lookup before either creates
	var arrived sync.WaitGroup
	arrived.Add(2)
	f.store.BeforeCreate = func() {
		arrived.Done()
		arrived.Wait()
	}

	var wg sync.WaitGroup
	got := make([]orders.Order, 2)
	errsOut := make([]error, 2)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], errsOut[i] = f.svc.PlaceOrder(ctx, place(1, "same", line(1, 6)))
		}(i)
	}
	wg.Wait()

	for i, err := range errsOut {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got[0].ID != got[1].ID {
		t.Fatalf("two orders created: %d and %d", got[0].ID, got[1].ID)
	}
	if f.qty(t, 1) != 4 {
		t.Fatalf("stock = %d, want 4", f.qty(t, 1))
	}
	if v := testutil.ToFloat64(f.metrics.OrdersPlaced.WithLabelValues("conflict")); v != 1 {
		t.Fatalf("conflict counter = %v", v)
	}
}

func TestPlaceOrderRejectsBadInput(t *testing.T) {
	f := newFixture(t, map[int64]int{1: 10})
	ctx := context.Background()

	cases := map[string]orders.PlaceOrderInput{
		"missing key":      place(1, "  ", line(1, 1)),
		"no items":         place(1, "k"),
		"zero qty":         place(1, "k", line(1, 0)),
		"zero product":     place(1, "k", line(0, 1)),
		"negative user id": place(-1, "k", line(1, 1)),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.PlaceOrder(ctx, in)
			if errs.CodeOf(err) != errs.InvalidRequest {
				t.Fatalf("err = %v, want INVALID_REQUEST", err)
			}
		})
	}
	if f.qty(t, 1) != 10 {
		t.Fatal("rejected input changed stock")
	}
}

func TestPlaceOrderIsAllOrNothing(t *testing.T) {
	f := newFixture(t, map[int64]int{1: 10, 2: 1})
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, place(1, "a", line(1, 5), line(2, 2)))
	if errs.CodeOf(err) != errs.InsufficientStock {
		t.Fatalf("err = %v", err)
	}
	_, err = f.svc.PlaceOrder(ctx, place(1, "b", line(1, 5), line(99, 1)))
	if errs.CodeOf(err) != errs.ProductNotFound {
		t.Fatalf("err = %v", err)
	}
	if f.qty(t, 1) != 10 || f.qty(t, 2) != 1 {
		t.Fatalf("stock changed on failed order: %d/%d", f.qty(t, 1), f.qty(t, 2))
	}
	if _, err := f.store.FindByIdempotencyKey(ctx, 1, "a"); !errors.Is(err, orders.ErrOrderNotFound) {
		t.Fatalf("failed order was stored: %v", err)
	}
	f.svc.Wait()
	if len(f.ff.requested()) != 0 {
		t.Fatal("fulfillment requested for a failed order")
	}
}

func TestFulfillmentRequestIsDetached(t *testing.T) {
	f := newFixture(t, map[int64]int{1: 10})
	f.ff.block = make(chan struct{})
	f.ff.err = errors.New("broker down")

	ctx, cancel := context.WithCancel(context.Background())
	o, err := f.svc.PlaceOrder(ctx, place(1, "k", line(1, 1)))
	if err != nil {
		t.Fatalf("PlaceOrder must not wait on or fail with fulfillment: %v", err)
	}
	cancel()
	close(f.ff.block)
	f.svc.Wait()

	f.ff.mu.Lock()
	defer f.ff.mu.Unlock()
	if len(f.ff.orders) != 1 || f.ff.orders[0] != o.ID {
		t.Fatalf("requests = %v", f.ff.orders)
	}
	if f.ff.ctxErrs[0] != nil {
		t.Fatalf("request context cancelled with caller: %v", f.ff.ctxErrs[0])
	}
	if v := testutil.ToFloat64(f.metrics.NotificationsFailed.WithLabelValues("task_requested")); v != 1 {
		t.Fatalf("failed notification counter = %v", v)
	}
}

// conflictStore inserts through the wrapped store and then reports Conflict,
// as if a concurrent request had claimed the key first.
type conflictStore struct{ *memory.Orders }

func (s conflictStore) Create(ctx context.Context, o orders.Order) (orders.InsertResult, error) {
	if _, err := s.Orders.Create(ctx, o); err != nil {
		return orders.InsertResult{}, err
	}
	return orders.InsertResult{Outcome: orders.Conflict}, nil
}

func TestPlaceOrderConflictReturnsWinner(t *testing.T) {
	inv := memory.NewInventory()
	if _, err := inv.SeedDefaults(context.Background()); err != nil {
		t.Fatal(err)
	}
	store := memory.NewOrders(inv)
	ff := &fakeFulfillment{}
	svc := orders.NewService(conflictStore{store}, orders.Options{Fulfillment: ff})

	o, err := svc.PlaceOrder(context.Background(), place(3, "k", line(1, 1)))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	winner, _ := store.FindByIdempotencyKey(context.Background(), 3, "k")
	if o.ID != winner.ID {
		t.Fatalf("got order %d, winner is %d", o.ID, winner.ID)
	}
	svc.Wait()
	if len(ff.requested()) != 0 {
		t.Fatal("the losing request must not ask for fulfillment")
	}
}

type fakeIdempotency struct {
	mu sync.Mutex
	m  map[string]int64
}

func (c *fakeIdempotency) Lookup(_ context.Context, _ int64, key string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.m[key]
	return id, ok, nil
}

func (c *fakeIdempotency) Remember(_ context.Context, _ int64, key string, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = id
	return nil
}

func TestIdempotencyCacheShortcut(t *testing.T) {
	inv := memory.NewInventory()
	_, _ = inv.SeedDefaults(context.Background())
	store := memory.NewOrders(inv)
	cache := &fakeIdempotency{m: map[string]int64{}}
	svc := orders.NewService(store, orders.Options{Idempotency: cache})
	ctx := context.Background()

	o, err := svc.PlaceOrder(ctx, place(1, "k", line(1, 1)))
	if err != nil {
		t.Fatal(err)
	}
	if cache.m["k"] != o.ID {
		t.Fatalf("cache = %v", cache.m)
	}
	again, err := svc.PlaceOrder(ctx, place(1, "k", line(1, 1)))
	if err != nil || again.ID != o.ID {
		t.Fatalf("replay = %+v %v", again, err)
	}

	// a stale entry pointing at someone else's order falls through to the store
	cache.m["other"] = o.ID
	fresh, err := svc.PlaceOrder(ctx, place(1, "other", line(1, 1)))
	if err != nil || fresh.ID == o.ID {
		t.Fatalf("stale cache entry was trusted: %+v %v", fresh, err)
	}
}

func TestPlaceOrderCancelledMidCreateChangesNothing(t *testing.T) {
	hooks := map[string]func(f *fixture, cancel context.CancelFunc){
		"before insert": func(f *fixture, cancel context.CancelFunc) {
			f.store.BeforeCreate = cancel
		},
		"after stock staged": func(f *fixture, cancel context.CancelFunc) {
			f.store.AfterReserve = cancel
		},
	}
	for name, hook := range hooks {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, map[int64]int{1: 10, 2: 5})
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			hook(f, cancel)

			_, err := f.svc.PlaceOrder(ctx, place(1, "k", line(1, 3), line(2, 1)))
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("err = %v, want context.Canceled", err)
			}
			f.store.BeforeCreate, f.store.AfterReserve = nil, nil

			if _, err := f.store.FindByIdempotencyKey(context.Background(), 1, "k"); !errors.Is(err, orders.ErrOrderNotFound) {
				t.Fatalf("order exists after cancellation: %v", err)
			}
			if f.qty(t, 1) != 10 || f.qty(t, 2) != 5 {
				t.Fatalf("stock = %d/%d, want 10/5", f.qty(t, 1), f.qty(t, 2))
			}
			f.svc.Wait()
			if got := f.ff.requested(); len(got) != 0 {
				t.Fatalf("task requested for cancelled order: %v", got)
			}
		})
	}
}

func TestIdempotencyKeyIsExact(t *testing.T) {
	f := newFixture(t, map[int64]int{1: 10})
	ctx := context.Background()

	a, err := f.svc.PlaceOrder(ctx, place(1, "k", line(1, 1)))
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.svc.PlaceOrder(ctx, place(1, " k", line(1, 1)))
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID || b.IdempotencyKey != " k" {
		t.Fatalf("keys %q and %q collapsed into order %d", a.IdempotencyKey, b.IdempotencyKey, b.ID)
	}
	if f.qty(t, 1) != 8 {
		t.Fatalf("stock = %d, want 8", f.qty(t, 1))
	}
}
