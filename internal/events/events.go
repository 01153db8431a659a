// Package events carries fulfillment traffic between the order and
// fulfillment services over Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	kafkax "github.com/ariefcatur/go-fulfillment-orders/internal/kafka"
)

const (
	EventTaskRequested     = "TaskRequested"
	EventTaskStatusChanged = "TaskStatusChanged"
)

const (
	TopicTaskRequested = "fulfillment.task.requested"
	TopicTaskStatus    = "fulfillment.task.status"
)

const eventVersion = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type TaskRequestedPayload struct {
	OrderID int64 `json:"order_id"`
}

type TaskStatusPayload struct {
	TaskID   int64  `json:"task_id"`
	OrderID  int64  `json:"order_id"`
	WorkerID *int64 `json:"worker_id,omitempty"`
	Status   string `json:"status"`
}

// PartitionKey keeps every event of one order on one partition, in order.
func PartitionKey(orderID int64) []byte { return []byte(strconv.FormatInt(orderID, 10)) }

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafkago.Header) error
}

func newEnvelope(ctx context.Context, eventType, producer string, orderID int64, payload any) Envelope {
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: strconv.FormatInt(orderID, 10),
		Payload:       mustMarshal(payload),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	return env
}

func publish(ctx context.Context, p Publisher, env Envelope, orderID int64) error {
	headers := kafkax.Inject(ctx, []kafkago.Header{
		{Key: "x-event-type", Value: []byte(env.EventType)},
		{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	})
	return p.Publish(ctx, PartitionKey(orderID), mustMarshal(env), headers...)
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("events: marshal %T: %v", v, err))
	}
	return b
}
