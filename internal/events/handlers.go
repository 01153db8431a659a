package events

import (
	"context"
	"encoding/json"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-fulfillment-orders/internal/errs"
	"github.com/ariefcatur/go-fulfillment-orders/internal/fulfillment"
	kafkax "github.com/ariefcatur/go-fulfillment-orders/internal/kafka"
	"github.com/ariefcatur/go-fulfillment-orders/internal/logging"
)

type TaskCreator interface {
	CreateTask(ctx context.Context, orderID int64) (fulfillment.Task, bool, error)
}

type FulfillmentApplier interface {
	ApplyFulfillmentUpdate(ctx context.Context, orderID int64, status string, workerID *int64) (bool, error)
}

// decode returns ok=false for messages that can never be processed; those
// are logged and committed so they do not block the partition.
func decode[T any](m kafkago.Message, want string, log *zap.Logger) (T, bool) {
	var zero T
	var env Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		log.Warn("dropping undecodable message", zap.Int64("offset", m.Offset), zap.Error(err))
		return zero, false
	}
	if env.EventType != want {
		return zero, false
	}
	var p T
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Warn("dropping bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return zero, false
	}
	return p, true
}

// HandleTaskRequested opens a task for each TaskRequested event. Redelivery
// is harmless because task creation is idempotent per order.
func HandleTaskRequested(c TaskCreator, logger *zap.Logger) kafkax.Handler {
	base := logging.OrNop(logger).With(zap.String("handler", EventTaskRequested))
	return func(ctx context.Context, m kafkago.Message) error {
		log := logging.FromContext(ctx, base)
		p, ok := decode[TaskRequestedPayload](m, EventTaskRequested, log)
		if !ok {
			return nil
		}
		_, _, err := c.CreateTask(ctx, p.OrderID)
		if errs.CodeOf(err) == errs.InvalidRequest {
			log.Warn("dropping task request", zap.Int64("order_id", p.OrderID), zap.Error(err))
			return nil
		}
		return err
	}
}

// HandleTaskStatus applies task status events to the order.
func HandleTaskStatus(a FulfillmentApplier, logger *zap.Logger) kafkax.Handler {
	base := logging.OrNop(logger).With(zap.String("handler", EventTaskStatusChanged))
	return func(ctx context.Context, m kafkago.Message) error {
		log := logging.FromContext(ctx, base)
		p, ok := decode[TaskStatusPayload](m, EventTaskStatusChanged, log)
		if !ok {
			return nil
		}
		applied, err := a.ApplyFulfillmentUpdate(ctx, p.OrderID, p.Status, p.WorkerID)
		if errs.CodeOf(err) == errs.InvalidStatus {
			log.Warn("dropping status update", zap.Int64("order_id", p.OrderID), zap.String("status", p.Status), zap.Error(err))
			return nil
		}
		if err != nil {
			return err
		}
		if !applied {
			log.Info("status update for unknown order", zap.Int64("order_id", p.OrderID), zap.String("status", p.Status))
		}
		return nil
	}
}
