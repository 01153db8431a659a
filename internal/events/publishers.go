package events

import (
	"context"

	"github.com/ariefcatur/go-fulfillment-orders/internal/fulfillment"
)

// TaskRequester asks the fulfillment service for a task by publishing
// TaskRequested.
type TaskRequester struct {
	Producer Publisher
	Service  string
}

func (r *TaskRequester) RequestTask(ctx context.Context, orderID int64) error {
	env := newEnvelope(ctx, EventTaskRequested, r.Service, orderID, TaskRequestedPayload{OrderID: orderID})
	return publish(ctx, r.Producer, env, orderID)
}

// StatusNotifier reports task status changes back to the order service.
type StatusNotifier struct {
	Producer Publisher
	Service  string
}

func (n *StatusNotifier) TaskStatusChanged(ctx context.Context, t fulfillment.Task) error {
	env := newEnvelope(ctx, EventTaskStatusChanged, n.Service, t.OrderID, TaskStatusPayload{
		TaskID:   t.ID,
		OrderID:  t.OrderID,
		WorkerID: t.WorkerID,
		Status:   t.Status.Wire(),
	})
	return publish(ctx, n.Producer, env, t.OrderID)
}
