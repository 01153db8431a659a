package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-fulfillment-orders/internal/inventory"
	"github.com/ariefcatur/go-fulfillment-orders/internal/orders"
)

type idemKey struct {
	userID int64
	key    string
}

// Orders is an orders.Store. It shares the Inventory lock so reservation and
// insert happen under one critical section.
type Orders struct {
	inv *Inventory

	mu     sync.RWMutex
	nextID int64
	byID   map[int64]orders.Order
	byKey  map[idemKey]int64

	// BeforeCreate, when set, runs inside Create before the uniqueness
	// check. Tests use it to line up concurrent callers.
	BeforeCreate func()
	// AfterReserve, when set, runs once stock is staged and before it is
	// committed.
	AfterReserve func()
}

func NewOrders(inv *Inventory) *Orders {
	return &Orders{
		inv:   inv,
		byID:  make(map[int64]orders.Order),
		byKey: make(map[idemKey]int64),
	}
}

func (s *Orders) FindByIdempotencyKey(_ context.Context, userID int64, key string) (orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[idemKey{userID, key}]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *Orders) Get(_ context.Context, id int64) (orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byID[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return clone(o), nil
}

func (s *Orders) Create(ctx context.Context, o orders.Order) (orders.InsertResult, error) {
	if s.BeforeCreate != nil {
		s.BeforeCreate()
	}
	if err := ctx.Err(); err != nil {
		return orders.InsertResult{}, err
	}

	s.inv.mu.Lock()
	defer s.inv.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	k := idemKey{o.UserID, o.IdempotencyKey}
	if _, taken := s.byKey[k]; taken {
		return orders.InsertResult{Outcome: orders.Conflict}, nil
	}

	staged := s.inv.stage()
	if err := inventory.Reserve(ctx, staged, o.Items); err != nil {
		return orders.InsertResult{}, err
	}
	if s.AfterReserve != nil {
		s.AfterReserve()
	}
	// a cancelled caller rolls back like a Postgres commit would
	if err := ctx.Err(); err != nil {
		return orders.InsertResult{}, err
	}
	staged.commit()

	s.nextID++
	o.ID = s.nextID
	o = clone(o)
	s.byID[o.ID] = o
	s.byKey[k] = o.ID
	return orders.InsertResult{Outcome: orders.Inserted, Order: clone(o)}, nil
}

func (s *Orders) UpdateStatus(_ context.Context, id int64, from, to orders.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return orders.ErrOrderNotFound
	}
	if o.Status != from {
		return orders.ErrStatusMismatch
	}
	o.Status = to
	o.UpdatedAt = at
	s.byID[id] = o
	return nil
}

func (s *Orders) Delete(_ context.Context, id int64, from orders.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return orders.ErrOrderNotFound
	}
	if o.Status != from {
		return orders.ErrStatusMismatch
	}
	delete(s.byID, id)
	delete(s.byKey, idemKey{o.UserID, o.IdempotencyKey})
	return nil
}

func clone(o orders.Order) orders.Order {
	o.Items = append([]inventory.Line(nil), o.Items...)
	return o
}
