package fulfillment

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-fulfillment-orders/internal/errs"
)

// Ring addresses worker slots 1..Size. The cursor stored alongside the
// workers is the id of the last slot that received a task.
type Ring struct {
	Size     int
	Capacity int
}

// Start is the first slot probed for cursor c: (c mod Size) + 1.
func (r Ring) Start(c int64) int64 {
	n := int64(r.Size)
	return ((c%n)+n)%n + 1
}

func (r Ring) Next(id int64) int64 {
	return id%int64(r.Size) + 1
}

// Pick walks at most Size+1 slots from Start(cursor) and returns the first
// worker below capacity. lock is expected to hold the worker row until the
// surrounding transaction ends, so the count it returns cannot go stale.
func (r Ring) Pick(ctx context.Context, cursor int64, lock func(context.Context, int64) (Worker, error)) (Worker, error) {
	if r.Size < 1 || r.Capacity < 1 {
		return Worker{}, fmt.Errorf("invalid ring size=%d capacity=%d", r.Size, r.Capacity)
	}
	id := r.Start(cursor)
	for probe := 0; probe <= r.Size; probe++ {
		if err := ctx.Err(); err != nil {
			return Worker{}, err
		}
		w, err := lock(ctx, id)
		if err != nil {
			return Worker{}, err
		}
		if w.ActiveTaskCount < r.Capacity {
			return w, nil
		}
		id = r.Next(id)
	}
	return Worker{}, errs.Newf(errs.NoAvailableWorkers, "all %d workers at capacity %d", r.Size, r.Capacity)
}
