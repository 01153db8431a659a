package orders

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-fulfillment-orders/internal/errs"
)

var (
	ErrOrderNotFound  = errs.New(errs.OrderNotFound, "order not found")
	ErrStatusMismatch = errors.New("orders: status changed concurrently")
)

// Store persists orders. Create must reserve stock for every item and insert
// the order in one transaction.
type Store interface {
	FindByIdempotencyKey(ctx context.Context, userID int64, key string) (Order, error)
	Get(ctx context.Context, id int64) (Order, error)
	Create(ctx context.Context, o Order) (InsertResult, error)
	// UpdateStatus moves id from -> to and fails with ErrStatusMismatch when
	// the stored status is no longer from.
	UpdateStatus(ctx context.Context, id int64, from, to Status, at time.Time) error
	Delete(ctx context.Context, id int64, from Status) error
}

// FulfillmentClient asks the fulfillment service to open a task for an order.
type FulfillmentClient interface {
	RequestTask(ctx context.Context, orderID int64) error
}

// IdempotencyCache is a shortcut in front of FindByIdempotencyKey. The store
// stays the source of truth.
type IdempotencyCache interface {
	Lookup(ctx context.Context, userID int64, key string) (orderID int64, ok bool, err error)
	Remember(ctx context.Context, userID int64, key string, orderID int64) error
}

// OrderCache is a read-through cache for GetOrder.
type OrderCache interface {
	Get(ctx context.Context, id int64) (Order, bool, error)
	Set(ctx context.Context, o Order) error
	Forget(ctx context.Context, id int64) error
}

type nopIdempotency struct{}

func (nopIdempotency) Lookup(context.Context, int64, string) (int64, bool, error) { return 0, false, nil }
func (nopIdempotency) Remember(context.Context, int64, string, int64) error       { return nil }

type nopCache struct{}

func (nopCache) Get(context.Context, int64) (Order, bool, error) { return Order{}, false, nil }
func (nopCache) Set(context.Context, Order) error                { return nil }
func (nopCache) Forget(context.Context, int64) error             { return nil }
