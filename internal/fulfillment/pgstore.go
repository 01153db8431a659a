package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const cursorRow = 1

const selectTask = `SELECT id, order_id, worker_id, status, created_at FROM fulfillment_tasks`

type PGStore struct{ DB *pgxpool.Pool }

func (s *PGStore) CreateTask(ctx context.Context, orderID int64, at time.Time) (Task, bool, error) {
	t, err := scanTask(s.DB.QueryRow(ctx, `
		INSERT INTO fulfillment_tasks(order_id, status, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id, order_id, worker_id, status, created_at`, orderID, StatusPending, at))
	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, ErrTaskNotFound) {
		return Task{}, false, fmt.Errorf("insert task: %w", err)
	}
	// lost to an existing row for this order
	t, err = s.GetTaskByOrder(ctx, orderID)
	return t, false, err
}

func (s *PGStore) GetTask(ctx context.Context, id int64) (Task, error) {
	return scanTask(s.DB.QueryRow(ctx, selectTask+` WHERE id = $1`, id))
}

func (s *PGStore) GetTaskByOrder(ctx context.Context, orderID int64) (Task, error) {
	return scanTask(s.DB.QueryRow(ctx, selectTask+` WHERE order_id = $1`, orderID))
}

func (s *PGStore) ListPending(ctx context.Context) ([]Task, error) {
	rows, err := s.DB.Query(ctx, selectTask+` WHERE worker_id IS NULL AND status = $1 ORDER BY id`, StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PGStore) ListWorkers(ctx context.Context) ([]Worker, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, active_task_count FROM workers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Worker
	for rows.Next() {
		var w Worker
		if err := rows.Scan(&w.ID, &w.Name, &w.ActiveTaskCount); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *PGStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(pgTx{tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SeedWorkers creates workers 1..n when the table is empty and makes sure
// the cursor row exists.
func (s *PGStore) SeedWorkers(ctx context.Context, n int) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `INSERT INTO assignment_cursor(id, current) VALUES ($1, 0) ON CONFLICT (id) DO NOTHING`, cursorRow); err != nil {
		return false, fmt.Errorf("seed cursor: %w", err)
	}
	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM workers`).Scan(&count); err != nil {
		return false, err
	}
	seeded := count == 0
	if seeded {
		for i := 1; i <= n; i++ {
			if _, err := tx.Exec(ctx, `INSERT INTO workers(id, name, active_task_count) VALUES ($1, $2, 0)`,
				i, fmt.Sprintf("Worker %d", i)); err != nil {
				return false, fmt.Errorf("seed worker %d: %w", i, err)
			}
		}
	}
	return seeded, tx.Commit(ctx)
}

type pgTx struct{ tx pgx.Tx }

func (t pgTx) LockTask(ctx context.Context, id int64) (Task, error) {
	return scanTask(t.tx.QueryRow(ctx, selectTask+` WHERE id = $1 FOR UPDATE`, id))
}

func (t pgTx) LockCursor(ctx context.Context) (int64, error) {
	var c int64
	err := t.tx.QueryRow(ctx, `SELECT current FROM assignment_cursor WHERE id = $1 FOR UPDATE`, cursorRow).Scan(&c)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errors.New("assignment cursor row missing; workers not seeded")
	}
	return c, err
}

func (t pgTx) LockWorker(ctx context.Context, id int64) (Worker, error) {
	var w Worker
	err := t.tx.QueryRow(ctx, `SELECT id, name, active_task_count FROM workers WHERE id = $1 FOR UPDATE`, id).
		Scan(&w.ID, &w.Name, &w.ActiveTaskCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Worker{}, fmt.Errorf("worker %d: %w", id, ErrWorkerNotFound)
	}
	return w, err
}

func (t pgTx) SaveTask(ctx context.Context, task Task) error {
	_, err := t.tx.Exec(ctx, `UPDATE fulfillment_tasks SET worker_id = $2, status = $3 WHERE id = $1`,
		task.ID, task.WorkerID, task.Status)
	return err
}

func (t pgTx) SaveWorker(ctx context.Context, w Worker) error {
	_, err := t.tx.Exec(ctx, `UPDATE workers SET active_task_count = $2 WHERE id = $1`, w.ID, w.ActiveTaskCount)
	return err
}

func (t pgTx) SetCursor(ctx context.Context, workerID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE assignment_cursor SET current = $2 WHERE id = $1`, cursorRow, workerID)
	return err
}

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.OrderID, &t.WorkerID, &t.Status, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, ErrTaskNotFound
	}
	return t, err
}
