package fulfillment_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-fulfillment-orders/internal/fulfillment"
)

type fakeLease struct {
	held     bool
	gate     chan struct{}
	entered  chan struct{}
	released atomic.Int32
}

func (l *fakeLease) Acquire(context.Context) (func(context.Context) error, bool, error) {
	if l.entered != nil {
		close(l.entered)
	}
	if l.gate != nil {
		<-l.gate
	}
	if l.held {
		return nil, false, nil
	}
	return func(context.Context) error {
		l.released.Add(1)
		return nil
	}, true, nil
}

func TestSweepOnceStopsWhenWorkersExhausted(t *testing.T) {
	s, _ := newScheduler(t, 1, nil)
	for i := int64(1); i <= 7; i++ {
		createTask(t, s, i)
	}
	sw := fulfillment.NewSweeper(s, time.Second, nil, nil, nil)

	res, err := sw.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if res.Pending != 7 || res.Assigned != 5 || !res.Exhausted {
		t.Fatalf("result = %+v", res)
	}
	pending, _ := s.GetPendingTasks(context.Background())
	if len(pending) != 2 {
		t.Fatalf("left pending = %d", len(pending))
	}
}

func TestSweepOnceLease(t *testing.T) {
	s, _ := newScheduler(t, 5, nil)
	createTask(t, s, 1)

	held := &fakeLease{held: true}
	if _, err := fulfillment.NewSweeper(s, time.Second, held, nil, nil).SweepOnce(context.Background()); !errors.Is(err, fulfillment.ErrLeaseHeld) {
		t.Fatalf("err = %v, want ErrLeaseHeld", err)
	}

	free := &fakeLease{}
	res, err := fulfillment.NewSweeper(s, time.Second, free, nil, nil).SweepOnce(context.Background())
	if err != nil || res.Assigned != 1 {
		t.Fatalf("res = %+v err = %v", res, err)
	}
	if free.released.Load() != 1 {
		t.Fatalf("lease released %d times", free.released.Load())
	}
}

func TestSweepOnceIsSingleFlight(t *testing.T) {
	s, _ := newScheduler(t, 5, nil)
	createTask(t, s, 1)

	lease := &fakeLease{gate: make(chan struct{}), entered: make(chan struct{})}
	sw := fulfillment.NewSweeper(s, time.Second, lease, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := sw.SweepOnce(context.Background())
		done <- err
	}()
	<-lease.entered

	if _, err := sw.SweepOnce(context.Background()); !errors.Is(err, fulfillment.ErrSweepInProgress) {
		t.Fatalf("overlapping sweep: err = %v", err)
	}
	close(lease.gate)
	if err := <-done; err != nil {
		t.Fatalf("first sweep: %v", err)
	}
}

func TestRunAssignsUntilCancelled(t *testing.T) {
	s, _ := newScheduler(t, 5, nil)
	for i := int64(1); i <= 3; i++ {
		createTask(t, s, i)
	}
	sw := fulfillment.NewSweeper(s, 10*time.Millisecond, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(stopped)
	}()

	deadline := time.After(2 * time.Second)
	for {
		pending, _ := s.GetPendingTasks(context.Background())
		if len(pending) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("still %d pending", len(pending))
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
