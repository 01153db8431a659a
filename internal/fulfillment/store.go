package fulfillment

import (
	"context"
	"time"

	"github.com/ariefcatur/go-fulfillment-orders/internal/errs"
)

var (
	ErrTaskNotFound       = errs.New(errs.TaskNotFound, "task not found")
	ErrWorkerNotFound     = errs.New(errs.WorkerNotFound, "worker not found")
	ErrWorkerMismatch     = errs.New(errs.WorkerMismatch, "worker not assigned to this task")
	ErrAlreadyProcessed   = errs.New(errs.AlreadyProcessed, "task already processed")
	ErrInvalidTransition  = errs.New(errs.InvalidTransition, "invalid transition")
	ErrAlreadyAssigned    = errs.New(errs.AlreadyAssigned, "task already assigned")
	ErrNoAvailableWorkers = errs.New(errs.NoAvailableWorkers, "no available workers")
	ErrFailedToAssign     = errs.New(errs.FailedToAssign, "failed to assign a task")
	ErrFailedToUpdate     = errs.New(errs.FailedToUpdateStatus, "failed to update task status")
)

type Store interface {
	// CreateTask inserts a PENDING task for orderID, or returns the existing
	// one with created=false.
	CreateTask(ctx context.Context, orderID int64, at time.Time) (t Task, created bool, err error)
	GetTask(ctx context.Context, id int64) (Task, error)
	GetTaskByOrder(ctx context.Context, orderID int64) (Task, error)
	// ListPending returns unassigned PENDING tasks ordered by id.
	ListPending(ctx context.Context) ([]Task, error)
	ListWorkers(ctx context.Context) ([]Worker, error)
	// InTx runs fn in one transaction: committed when fn returns nil,
	// rolled back otherwise.
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the locked, transactional view used by assignment and status
// updates. Lock* methods hold the row until the transaction ends.
type Tx interface {
	LockTask(ctx context.Context, id int64) (Task, error)
	LockCursor(ctx context.Context) (int64, error)
	LockWorker(ctx context.Context, id int64) (Worker, error)
	SaveTask(ctx context.Context, t Task) error
	SaveWorker(ctx context.Context, w Worker) error
	SetCursor(ctx context.Context, workerID int64) error
}

// StatusNotifier tells the order service about task status changes.
type StatusNotifier interface {
	TaskStatusChanged(ctx context.Context, t Task) error
}

// Lease guards the sweep across processes.
type Lease interface {
	Acquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}
