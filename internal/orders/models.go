package orders

import (
	"time"

	"github.com/ariefcatur/go-fulfillment-orders/internal/inventory"
)

type Order struct {
	ID             int64            `json:"order_id"`
	UserID         int64            `json:"user_id"`
	IdempotencyKey string           `json:"idempotency_key"`
	Status         Status           `json:"status"` // see status.go
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Items          []inventory.Line `json:"items"`
}

type PlaceOrderInput struct {
	UserID         int64            `json:"user_id" validate:"gte=0"`
	IdempotencyKey string           `json:"idempotency_key" validate:"required,notblank"`
	Items          []inventory.Line `json:"items" validate:"required,min=1,dive"`
}

// Outcome tags the result of an idempotent insert.
type Outcome int

const (
	Inserted Outcome = iota + 1
	// Conflict means another request already owns (user_id, idempotency_key);
	// nothing was written and the caller should read the winner back.
	Conflict
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

type InsertResult struct {
	Outcome Outcome
	Order   Order // set when Outcome == Inserted
}
