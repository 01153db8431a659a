package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-fulfillment-orders/internal/fulfillment"
)

// Fulfillment is a fulfillment.Store. Workers live in a slice indexed by
// id-1; transactions hold the store lock and stage writes until commit.
type Fulfillment struct {
	mu      sync.Mutex
	nextID  int64
	tasks   map[int64]fulfillment.Task
	byOrder map[int64]int64
	workers []fulfillment.Worker
	cursor  int64
}

func NewFulfillment() *Fulfillment {
	return &Fulfillment{
		tasks:   make(map[int64]fulfillment.Task),
		byOrder: make(map[int64]int64),
	}
}

// SeedWorkers creates workers 1..n when none exist.
func (s *Fulfillment) SeedWorkers(_ context.Context, n int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.workers) > 0 {
		return false, nil
	}
	s.workers = make([]fulfillment.Worker, n)
	for i := range s.workers {
		s.workers[i] = fulfillment.Worker{ID: int64(i + 1), Name: fmt.Sprintf("Worker %d", i+1)}
	}
	return true, nil
}

// SetLoad overwrites worker counts and the cursor. Test fixture only.
func (s *Fulfillment) SetLoad(cursor int64, counts ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range counts {
		s.workers[i].ActiveTaskCount = n
	}
	s.cursor = cursor
}

func (s *Fulfillment) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Fulfillment) CreateTask(_ context.Context, orderID int64, at time.Time) (fulfillment.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byOrder[orderID]; ok {
		return cloneTask(s.tasks[id]), false, nil
	}
	s.nextID++
	t := fulfillment.Task{ID: s.nextID, OrderID: orderID, Status: fulfillment.StatusPending, CreatedAt: at}
	s.tasks[t.ID] = t
	s.byOrder[orderID] = t.ID
	return cloneTask(t), true, nil
}

func (s *Fulfillment) GetTask(_ context.Context, id int64) (fulfillment.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fulfillment.Task{}, fulfillment.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

func (s *Fulfillment) GetTaskByOrder(_ context.Context, orderID int64) (fulfillment.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byOrder[orderID]
	if !ok {
		return fulfillment.Task{}, fulfillment.ErrTaskNotFound
	}
	return cloneTask(s.tasks[id]), nil
}

func (s *Fulfillment) ListPending(context.Context) ([]fulfillment.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []fulfillment.Task
	for _, t := range s.tasks {
		if t.WorkerID == nil && t.Status == fulfillment.StatusPending {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Fulfillment) ListWorkers(context.Context) ([]fulfillment.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fulfillment.Worker(nil), s.workers...), nil
}

func (s *Fulfillment) InTx(ctx context.Context, fn func(fulfillment.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		s:       s,
		tasks:   make(map[int64]fulfillment.Task),
		workers: make(map[int64]fulfillment.Worker),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, t := range tx.tasks {
		s.tasks[id] = t
	}
	for id, w := range tx.workers {
		s.workers[id-1] = w
	}
	if tx.cursor != nil {
		s.cursor = *tx.cursor
	}
	return nil
}

type memTx struct {
	s       *Fulfillment
	tasks   map[int64]fulfillment.Task
	workers map[int64]fulfillment.Worker
	cursor  *int64
}

func (tx *memTx) LockTask(_ context.Context, id int64) (fulfillment.Task, error) {
	if t, ok := tx.tasks[id]; ok {
		return cloneTask(t), nil
	}
	t, ok := tx.s.tasks[id]
	if !ok {
		return fulfillment.Task{}, fulfillment.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

func (tx *memTx) LockCursor(context.Context) (int64, error) {
	if tx.cursor != nil {
		return *tx.cursor, nil
	}
	if len(tx.s.workers) == 0 {
		return 0, fmt.Errorf("assignment cursor missing; workers not seeded")
	}
	return tx.s.cursor, nil
}

func (tx *memTx) LockWorker(_ context.Context, id int64) (fulfillment.Worker, error) {
	if w, ok := tx.workers[id]; ok {
		return w, nil
	}
	if id < 1 || int(id) > len(tx.s.workers) {
		return fulfillment.Worker{}, fmt.Errorf("worker %d: %w", id, fulfillment.ErrWorkerNotFound)
	}
	return tx.s.workers[id-1], nil
}

func (tx *memTx) SaveTask(_ context.Context, t fulfillment.Task) error {
	if _, ok := tx.s.tasks[t.ID]; !ok {
		return fulfillment.ErrTaskNotFound
	}
	tx.tasks[t.ID] = cloneTask(t)
	return nil
}

func (tx *memTx) SaveWorker(_ context.Context, w fulfillment.Worker) error {
	if w.ID < 1 || int(w.ID) > len(tx.s.workers) {
		return fmt.Errorf("worker %d: %w", w.ID, fulfillment.ErrWorkerNotFound)
	}
	if w.ActiveTaskCount < 0 {
		return fmt.Errorf("worker %d: negative active task count", w.ID)
	}
	tx.workers[w.ID] = w
	return nil
}

func (tx *memTx) SetCursor(_ context.Context, workerID int64) error {
	tx.cursor = &workerID
	return nil
}

func cloneTask(t fulfillment.Task) fulfillment.Task {
	if t.WorkerID != nil {
		id := *t.WorkerID
		t.WorkerID = &id
	}
	return t
}
