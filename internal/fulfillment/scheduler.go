// Package fulfillment creates fulfillment tasks and assigns them round-robin
// to a fixed ring of workers, never past a worker's capacity.
package fulfillment

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-fulfillment-orders/internal/errs"
	"github.com/ariefcatur/go-fulfillment-orders/internal/logging"
	"github.com/ariefcatur/go-fulfillment-orders/internal/metrics"
)

const notifyTimeout = 10 * time.Second

type Options struct {
	Ring     Ring
	Notifier StatusNotifier
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

type Scheduler struct {
	store    Store
	ring     Ring
	notifier StatusNotifier
	log      *zap.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time

	mu       sync.Mutex
	queue    []notification
	sending  bool
	inflight sync.WaitGroup
}

type notification struct {
	ctx  context.Context
	task Task
}

func NewScheduler(store Store, opts Options) *Scheduler {
	s := &Scheduler{
		store:    store,
		ring:     opts.Ring,
		notifier: opts.Notifier,
		log:      logging.OrNop(opts.Logger).With(zap.String("component", "scheduler")),
		metrics:  metrics.OrNop(opts.Metrics),
		tracer:   otel.Tracer("fulfillment"),
		now:      opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreateTask opens the task for orderID. Calling it again for the same order
// returns the existing task with created=false.
func (s *Scheduler) CreateTask(ctx context.Context, orderID int64) (Task, bool, error) {
	if orderID <= 0 {
		return Task{}, false, errs.Newf(errs.InvalidRequest, "order id must be positive, got %d", orderID)
	}
	t, created, err := s.store.CreateTask(ctx, orderID, s.now().UTC())
	if err != nil {
		return Task{}, false, err
	}
	if created {
		logging.FromContext(ctx, s.log).Info("task created", zap.Int64("task_id", t.ID), zap.Int64("order_id", orderID))
	}
	return t, created, nil
}

// AssignTask gives an unassigned task to the next worker with room, starting
// from the slot after the cursor. Task, worker and cursor rows are locked and
// written in one transaction; on any error nothing changes and the cause is
// returned wrapped in FAILED_TO_ASSIGN.
func (s *Scheduler) AssignTask(ctx context.Context, taskID int64) (Task, error) {
	ctx, span := s.tracer.Start(ctx, "fulfillment.AssignTask", trace.WithAttributes(attribute.Int64("task.id", taskID)))
	defer span.End()

	var assigned Task
	err := s.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.LockTask(ctx, taskID)
		if err != nil {
			return err
		}
		if t.WorkerID != nil {
			return errs.Newf(errs.AlreadyAssigned, "task %d already assigned to worker %d", t.ID, *t.WorkerID)
		}
		cursor, err := tx.LockCursor(ctx)
		if err != nil {
			return err
		}
		w, err := s.ring.Pick(ctx, cursor, tx.LockWorker)
		if err != nil {
			return err
		}

		w.ActiveTaskCount++
		t.WorkerID = &w.ID
		t.Status = StatusAssigned
		if err := tx.SaveTask(ctx, t); err != nil {
			return err
		}
		if err := tx.SaveWorker(ctx, w); err != nil {
			return err
		}
		if err := tx.SetCursor(ctx, w.ID); err != nil {
			return err
		}
		assigned = t
		return nil
	})
	if err != nil {
		code := errs.CodeOf(err)
		if code == "" {
			code = "error"
		}
		s.metrics.TasksAssigned.WithLabelValues(string(code)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Task{}, errs.Wrap(errs.FailedToAssign, "failed to assign a task", err)
	}

	s.metrics.TasksAssigned.WithLabelValues("assigned").Inc()
	span.SetAttributes(attribute.Int64("worker.id", *assigned.WorkerID))
	logging.FromContext(ctx, s.log).Info("task assigned",
		zap.Int64("task_id", assigned.ID),
		zap.Int64("order_id", assigned.OrderID),
		zap.Int64("worker_id", *assigned.WorkerID),
	)
	s.notify(ctx, assigned)
	return assigned, nil
}

// UpdateTaskStatus records a worker's report on its task. A terminal status
// releases one unit of the worker's capacity in the same transaction.
func (s *Scheduler) UpdateTaskStatus(ctx context.Context, taskID, workerID int64, status string) (Task, error) {
	ctx, span := s.tracer.Start(ctx, "fulfillment.UpdateTaskStatus", trace.WithAttributes(
		attribute.Int64("task.id", taskID),
		attribute.Int64("worker.id", workerID),
		attribute.String("task.status", status),
	))
	defer span.End()

	next, known := ParseStatus(status)
	var updated Task
	err := s.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.LockTask(ctx, taskID)
		if err != nil {
			return err
		}
		if t.WorkerID == nil || *t.WorkerID != workerID {
			return errs.Newf(errs.WorkerMismatch, "worker %d is not assigned to task %d", workerID, taskID)
		}
		if t.Status.Terminal() {
			return errs.Newf(errs.AlreadyProcessed, "task %d already %s", taskID, t.Status)
		}
		if !known || !CanTransition(t.Status, next) {
			return errs.Newf(errs.InvalidTransition, "task %d cannot move from %s to %s", taskID, t.Status, status)
		}

		t.Status = next
		if err := tx.SaveTask(ctx, t); err != nil {
			return err
		}
		if next.Terminal() {
			w, err := tx.LockWorker(ctx, workerID)
			if err != nil {
				return err
			}
			if w.ActiveTaskCount > 0 {
				w.ActiveTaskCount--
			}
			if err := tx.SaveWorker(ctx, w); err != nil {
				return err
			}
		}
		updated = t
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Task{}, errs.Wrap(errs.FailedToUpdateStatus, "failed to update task status", err)
	}

	s.metrics.TaskUpdates.WithLabelValues(string(updated.Status)).Inc()
	logging.FromContext(ctx, s.log).Info("task status updated",
		zap.Int64("task_id", updated.ID),
		zap.Int64("worker_id", workerID),
		zap.String("status", string(updated.Status)),
	)
	s.notify(ctx, updated)
	return updated, nil
}

// notify queues t for the order service without blocking the caller.
// Notifications leave in commit order through a single sender, so the
// events of one task reach the producer in the order they happened. Errors
// are logged; the task transaction has already committed.
func (s *Scheduler) notify(ctx context.Context, t Task) {
	if s.notifier == nil {
		return
	}
	n := notification{ctx: context.WithoutCancel(ctx), task: t}
	s.inflight.Add(1)
	s.mu.Lock()
	s.queue = append(s.queue, n)
	start := !s.sending
	s.sending = true
	s.mu.Unlock()
	if start {
		go s.sendQueued()
	}
}

// sendQueued delivers queued notifications one at a time and exits once the
// queue is empty; the next notify starts a new sender.
func (s *Scheduler) sendQueued() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.sending = false
			s.mu.Unlock()
			return
		}
		n := s.queue[0]
		s.queue[0] = notification{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.send(n)
		s.inflight.Done()
	}
}

func (s *Scheduler) send(n notification) {
	log := logging.FromContext(n.ctx, s.log)
	defer func() {
		if r := recover(); r != nil {
			log.Error("status notification panicked", zap.Int64("task_id", n.task.ID), zap.Any("panic", r))
		}
	}()
	ctx, cancel := context.WithTimeout(n.ctx, notifyTimeout)
	defer cancel()
	if err := s.notifier.TaskStatusChanged(ctx, n.task); err != nil {
		s.metrics.NotificationsFailed.WithLabelValues("task_status").Inc()
		log.Warn("order status notification failed", zap.Int64("task_id", n.task.ID), zap.Int64("order_id", n.task.OrderID), zap.Error(err))
	}
}

// Wait blocks until every queued notification has been delivered or has
// failed.
func (s *Scheduler) Wait() { s.inflight.Wait() }

func (s *Scheduler) GetTask(ctx context.Context, id int64) (Task, error) {
	return s.store.GetTask(ctx, id)
}

func (s *Scheduler) GetTaskByOrder(ctx context.Context, orderID int64) (Task, error) {
	return s.store.GetTaskByOrder(ctx, orderID)
}

func (s *Scheduler) GetPendingTasks(ctx context.Context) ([]Task, error) {
	return s.store.ListPending(ctx)
}

func (s *Scheduler) Workers(ctx context.Context) ([]Worker, error) {
	return s.store.ListWorkers(ctx)
}
