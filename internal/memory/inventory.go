// Package memory provides in-process stores with the same transactional
// guarantees as the Postgres ones: every multi-row write is staged and only
// applied when the whole operation succeeds.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-fulfillment-orders/internal/inventory"
)

type Inventory struct {
	mu    sync.Mutex
	stock map[int64]inventory.Record
	now   func() time.Time
}

func NewInventory() *Inventory {
	return &Inventory{stock: make(map[int64]inventory.Record), now: time.Now}
}

func (inv *Inventory) Get(_ context.Context, productID int64) (inventory.Record, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	rec, ok := inv.stock[productID]
	if !ok {
		return inventory.Record{}, inventory.ErrProductNotFound
	}
	return rec, nil
}

func (inv *Inventory) List(context.Context) ([]inventory.Record, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make([]inventory.Record, 0, len(inv.stock))
	for _, rec := range inv.stock {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// Seed inserts records that do not exist yet.
func (inv *Inventory) Seed(_ context.Context, recs []inventory.Record) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	for _, rec := range recs {
		if _, ok := inv.stock[rec.ProductID]; ok {
			continue
		}
		rec.UpdatedAt = inv.now().UTC()
		inv.stock[rec.ProductID] = rec
	}
	return nil
}

func (inv *Inventory) SeedDefaults(ctx context.Context) (bool, error) {
	inv.mu.Lock()
	empty := len(inv.stock) == 0
	inv.mu.Unlock()
	if !empty {
		return false, nil
	}
	return true, inv.Seed(ctx, inventory.Defaults())
}

// stagedStock is an inventory.Decrementer over a snapshot of pending
// quantities. Caller must hold inv.mu for its whole life.
type stagedStock struct {
	inv     *Inventory
	pending map[int64]int
}

func (inv *Inventory) stage() *stagedStock {
	return &stagedStock{inv: inv, pending: make(map[int64]int)}
}

func (s *stagedStock) TryDecrement(_ context.Context, productID int64, qty int) (bool, error) {
	rec, ok := s.inv.stock[productID]
	if !ok {
		return false, nil
	}
	have := rec.AvailableQty
	if p, staged := s.pending[productID]; staged {
		have = p
	}
	if have < qty {
		return false, nil
	}
	s.pending[productID] = have - qty
	return true, nil
}

func (s *stagedStock) Exists(_ context.Context, productID int64) (bool, error) {
	_, ok := s.inv.stock[productID]
	return ok, nil
}

func (s *stagedStock) commit() {
	now := s.inv.now().UTC()
	for id, qty := range s.pending {
		rec := s.inv.stock[id]
		rec.AvailableQty = qty
		rec.UpdatedAt = now
		s.inv.stock[id] = rec
	}
}
