package fulfillment

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-fulfillment-orders/internal/logging"
	"github.com/ariefcatur/go-fulfillment-orders/internal/metrics"
)

var (
	ErrSweepInProgress = errors.New("fulfillment: sweep already running")
	ErrLeaseHeld       = errors.New("fulfillment: sweep lease held by another instance")
)

type SweepResult struct {
	Pending  int `json:"pending"`
	Assigned int `json:"assigned"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	// Exhausted is set when the cycle stopped early because every worker
	// was at capacity.
	Exhausted bool `json:"exhausted"`
}

// Sweeper periodically assigns pending tasks. At most one sweep runs per
// process at a time; with a Lease, at most one across processes.
type Sweeper struct {
	sched    *Scheduler
	interval time.Duration
	lease    Lease
	log      *zap.Logger
	metrics  *metrics.Metrics

	mu sync.Mutex
	wg sync.WaitGroup
}

func NewSweeper(sched *Scheduler, interval time.Duration, lease Lease, logger *zap.Logger, m *metrics.Metrics) *Sweeper {
	return &Sweeper{
		sched:    sched,
		interval: interval,
		lease:    lease,
		log:      logging.OrNop(logger).With(zap.String("component", "sweeper")),
		metrics:  metrics.OrNop(m),
	}
}

// Run sweeps immediately and then on every tick until ctx is done. Each
// sweep runs in its own goroutine so a slow one does not delay the ticker;
// overlapping ticks are dropped by SweepOnce.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := s.SweepOnce(ctx)
		switch {
		case errors.Is(err, ErrSweepInProgress), errors.Is(err, ErrLeaseHeld):
			s.log.Debug("sweep skipped", zap.Error(err))
		case err != nil:
			s.log.Error("sweep failed", zap.Error(err))
		case res.Pending > 0:
			s.log.Info("sweep finished",
				zap.Int("pending", res.Pending),
				zap.Int("assigned", res.Assigned),
				zap.Int("skipped", res.Skipped),
				zap.Int("failed", res.Failed),
				zap.Bool("exhausted", res.Exhausted),
			)
		}
	}()
}

// SweepOnce assigns every task that is pending at call time. Running out of
// workers ends the cycle early without error; the next tick retries.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	if !s.mu.TryLock() {
		s.metrics.Sweeps.WithLabelValues("in_progress").Inc()
		return SweepResult{}, ErrSweepInProgress
	}
	defer s.mu.Unlock()

	if s.lease != nil {
		release, ok, err := s.lease.Acquire(ctx)
		if err != nil {
			s.metrics.Sweeps.WithLabelValues("error").Inc()
			return SweepResult{}, err
		}
		if !ok {
			s.metrics.Sweeps.WithLabelValues("lease_held").Inc()
			return SweepResult{}, ErrLeaseHeld
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("release sweep lease", zap.Error(err))
			}
		}()
	}

	pending, err := s.sched.GetPendingTasks(ctx)
	if err != nil {
		s.metrics.Sweeps.WithLabelValues("error").Inc()
		return SweepResult{}, err
	}

	res := SweepResult{Pending: len(pending)}
	for _, t := range pending {
		if err := ctx.Err(); err != nil {
			s.metrics.Sweeps.WithLabelValues("cancelled").Inc()
			return res, err
		}
		_, err := s.sched.AssignTask(ctx, t.ID)
		switch {
		case err == nil:
			res.Assigned++
		case errors.Is(err, ErrNoAvailableWorkers):
			res.Exhausted = true
			s.metrics.Sweeps.WithLabelValues("exhausted").Inc()
			return res, nil
		case errors.Is(err, ErrAlreadyAssigned), errors.Is(err, ErrTaskNotFound):
			res.Skipped++
		default:
			res.Failed++
			s.log.Warn("assign pending task", zap.Int64("task_id", t.ID), zap.Error(err))
		}
	}
	s.metrics.Sweeps.WithLabelValues("ok").Inc()
	return res, nil
}
