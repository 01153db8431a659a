package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

// TxDecrementer runs the conditional decrement inside the caller's tx.
type TxDecrementer struct{ Tx pgx.Tx }

func (d TxDecrementer) TryDecrement(ctx context.Context, productID int64, qty int) (bool, error) {
	ct, err := d.Tx.Exec(ctx, `
		UPDATE inventory
		SET available_qty = available_qty - $2, updated_at = now()
		WHERE product_id = $1 AND available_qty >= $2`, productID, qty)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (d TxDecrementer) Exists(ctx context.Context, productID int64) (bool, error) {
	var ok bool
	err := d.Tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory WHERE product_id = $1)`, productID).Scan(&ok)
	return ok, err
}

func (r *Repo) Get(ctx context.Context, productID int64) (Record, error) {
	var rec Record
	err := r.DB.QueryRow(ctx, `SELECT product_id, available_qty, updated_at FROM inventory WHERE product_id = $1`, productID).
		Scan(&rec.ProductID, &rec.AvailableQty, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrProductNotFound
	}
	return rec, err
}

func (r *Repo) List(ctx context.Context) ([]Record, error) {
	rows, err := r.DB.Query(ctx, `SELECT product_id, available_qty, updated_at FROM inventory ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ProductID, &rec.AvailableQty, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Seed inserts records that do not exist yet; existing stock is left alone.
func (r *Repo) Seed(ctx context.Context, recs []Record) error {
	batch := &pgx.Batch{}
	for _, rec := range recs {
		batch.Queue(`INSERT INTO inventory(product_id, available_qty) VALUES ($1, $2) ON CONFLICT (product_id) DO NOTHING`,
			rec.ProductID, rec.AvailableQty)
	}
	if err := r.DB.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("seed inventory: %w", err)
	}
	return nil
}

// SeedDefaults seeds DefaultStock when the table is empty.
func (r *Repo) SeedDefaults(ctx context.Context) (bool, error) {
	var n int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM inventory`).Scan(&n); err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	return true, r.Seed(ctx, Defaults())
}
