package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-fulfillment-orders/internal/inventory"
	"github.com/ariefcatur/go-fulfillment-orders/internal/postgres"
)

const idempotencyConstraint = "orders_user_idempotency_key"

const selectOrder = `SELECT id, user_id, idempotency_key, status, created_at, updated_at FROM orders`

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) FindByIdempotencyKey(ctx context.Context, userID int64, key string) (Order, error) {
	return r.one(ctx, selectOrder+` WHERE user_id = $1 AND idempotency_key = $2`, userID, key)
}

func (r *Repo) Get(ctx context.Context, id int64) (Order, error) {
	return r.one(ctx, selectOrder+` WHERE id = $1`, id)
}

// Create claims the idempotency key first, then reserves stock and writes the
// items, all in one transaction. Claiming first means a duplicate request
// waits on the winner's key and comes back as Conflict instead of racing it
// for stock and failing with INSUFFICIENT_STOCK.
func (r *Repo) Create(ctx context.Context, o Order) (InsertResult, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return InsertResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO orders(user_id, idempotency_key, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id`, o.UserID, o.IdempotencyKey, o.Status, o.CreatedAt).Scan(&o.ID)
	if postgres.IsUniqueViolation(err, idempotencyConstraint) {
		return InsertResult{Outcome: Conflict}, nil
	}
	if err != nil {
		return InsertResult{}, fmt.Errorf("insert order: %w", err)
	}

	if err := inventory.Reserve(ctx, inventory.TxDecrementer{Tx: tx}, o.Items); err != nil {
		return InsertResult{}, err
	}

	for i, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, line_no, product_id, qty)
			VALUES ($1, $2, $3, $4)`, o.ID, i+1, it.ProductID, it.Qty); err != nil {
			return InsertResult{}, fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return InsertResult{}, fmt.Errorf("commit order: %w", err)
	}
	return InsertResult{Outcome: Inserted, Order: o}, nil
}

func (r *Repo) UpdateStatus(ctx context.Context, id int64, from, to Status, at time.Time) error {
	ct, err := r.DB.Exec(ctx, `UPDATE orders SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`, id, from, to, at)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	return r.missingOrChanged(ctx, id)
}

func (r *Repo) Delete(ctx context.Context, id int64, from Status) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM orders WHERE id = $1 AND status = $2`, id, from)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	return r.missingOrChanged(ctx, id)
}

func (r *Repo) missingOrChanged(ctx context.Context, id int64) error {
	var exists bool
	if err := r.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrOrderNotFound
	}
	return ErrStatusMismatch
}

func (r *Repo) one(ctx context.Context, query string, args ...any) (Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, query, args...).
		Scan(&o.ID, &o.UserID, &o.IdempotencyKey, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}

	rows, err := r.DB.Query(ctx, `SELECT product_id, qty FROM order_items WHERE order_id = $1 ORDER BY line_no`, o.ID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it inventory.Line
		if err := rows.Scan(&it.ProductID, &it.Qty); err != nil {
			return Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}
