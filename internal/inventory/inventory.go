// Package inventory owns stock levels and the reservation engine.
//
// Stock is only ever taken through a conditional decrement
// (available_qty -= n WHERE available_qty >= n); nothing reads a quantity and
// writes it back, so two concurrent reservations cannot both see enough stock.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ariefcatur/go-fulfillment-orders/internal/errs"
)

var (
	ErrProductNotFound   = errs.New(errs.ProductNotFound, "product not found")
	ErrInsufficientStock = errs.New(errs.InsufficientStock, "insufficient stock")
)

// DefaultStock is seeded for products 1..5 when the inventory is empty.
var DefaultStock = []int{100, 50, 75, 200, 30}

type Line struct {
	ProductID int64 `json:"product_id" validate:"gt=0"`
	Qty       int   `json:"qty" validate:"gt=0"`
}

type Record struct {
	ProductID    int64     `json:"product_id"`
	AvailableQty int       `json:"available_qty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Decrementer is the transactional view the engine reserves through.
type Decrementer interface {
	// TryDecrement subtracts qty only when at least qty is available and
	// reports whether it did.
	TryDecrement(ctx context.Context, productID int64, qty int) (bool, error)
	Exists(ctx context.Context, productID int64) (bool, error)
}

// Catalog is the read side used by the HTTP layer.
type Catalog interface {
	Get(ctx context.Context, productID int64) (Record, error)
	List(ctx context.Context) ([]Record, error)
}

// Reserve takes stock for every line or fails on the first line that cannot
// be satisfied. It does not undo earlier decrements itself: d must be scoped
// to a transaction the caller rolls back on error.
func Reserve(ctx context.Context, d Decrementer, lines []Line) error {
	for _, l := range Merge(lines) {
		ok, err := d.TryDecrement(ctx, l.ProductID, l.Qty)
		if err != nil {
			return fmt.Errorf("decrement product %d: %w", l.ProductID, err)
		}
		if ok {
			continue
		}
		exists, err := d.Exists(ctx, l.ProductID)
		if err != nil {
			return fmt.Errorf("lookup product %d: %w", l.ProductID, err)
		}
		if !exists {
			return errs.Newf(errs.ProductNotFound, "product %d not found", l.ProductID)
		}
		return errs.Newf(errs.InsufficientStock, "not enough stock for product %d", l.ProductID)
	}
	return nil
}

// Merge sums quantities per product and orders the result by product id,
// so concurrent multi-line reservations touch rows in the same order.
func Merge(lines []Line) []Line {
	byID := make(map[int64]int, len(lines))
	for _, l := range lines {
		byID[l.ProductID] += l.Qty
	}
	out := make([]Line, 0, len(byID))
	for id, qty := range byID {
		out = append(out, Line{ProductID: id, Qty: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// Defaults returns the seed records for DefaultStock.
func Defaults() []Record {
	out := make([]Record, 0, len(DefaultStock))
	for i, qty := range DefaultStock {
		out = append(out, Record{ProductID: int64(i + 1), AvailableQty: qty})
	}
	return out
}
