package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
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

// maxStatusRetries bounds the read/compare/write loop in ApplyFulfillmentUpdate.
const maxStatusRetries = 3

type Options struct {
	Fulfillment FulfillmentClient
	Idempotency IdempotencyCache
	Cache       OrderCache
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

type Service struct {
	store       Store
	fulfillment FulfillmentClient
	idem        IdempotencyCache
	cache       OrderCache
	validate    *validatorv10.Validate
	log         *zap.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	now         func() time.Time

	inflight sync.WaitGroup
}

func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:       store,
		fulfillment: opts.Fulfillment,
		idem:        opts.Idempotency,
		cache:       opts.Cache,
		validate:    newValidator(),
		log:         logging.OrNop(opts.Logger).With(zap.String("component", "orders")),
		metrics:     metrics.OrNop(opts.Metrics),
		tracer:      otel.Tracer("orders"),
		now:         opts.Now,
	}
	if s.idem == nil {
		s.idem = nopIdempotency{}
	}
	if s.cache == nil {
		s.cache = nopCache{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// PlaceOrder creates an order and reserves its stock, or returns the order
// already placed under the same (user, idempotency key).
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.PlaceOrder", trace.WithAttributes(
		attribute.Int64("order.user_id", in.UserID),
		attribute.Int("order.items", len(in.Items)),
	))
	defer span.End()

	if err := validateInput(s.validate, in); err != nil {
		s.outcome(span, "rejected", err)
		return Order{}, err
	}
	log := logging.FromContext(ctx, s.log).With(
		zap.Int64("user_id", in.UserID),
		zap.String("idempotency_key", in.IdempotencyKey),
	)

	existing, found, err := s.replay(ctx, in.UserID, in.IdempotencyKey)
	if err != nil {
		s.outcome(span, "error", err)
		return Order{}, err
	}
	if found {
		s.outcome(span, "replayed", nil)
		log.Debug("order replayed", zap.Int64("order_id", existing.ID))
		return existing, nil
	}

	now := s.now().UTC()
	res, err := s.store.Create(ctx, Order{
		UserID:         in.UserID,
		IdempotencyKey: in.IdempotencyKey,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		Items:          in.Items,
	})
	if err != nil {
		switch errs.CodeOf(err) {
		case errs.InsufficientStock, errs.ProductNotFound:
			s.outcome(span, "rejected", err)
			log.Info("order rejected", zap.Error(err))
		default:
			s.outcome(span, "error", err)
			log.Error("create order failed", zap.Error(err))
		}
		return Order{}, err
	}

	if res.Outcome == Conflict {
		winner, err := s.store.FindByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
		if err != nil {
			err = fmt.Errorf("reread order after idempotency conflict: %w", err)
			s.outcome(span, "error", err)
			return Order{}, err
		}
		s.outcome(span, "conflict", nil)
		log.Info("duplicate placement resolved to existing order", zap.Int64("order_id", winner.ID))
		return winner, nil
	}

	o := res.Order
	span.SetAttributes(attribute.Int64("order.id", o.ID))
	if err := s.idem.Remember(ctx, o.UserID, o.IdempotencyKey, o.ID); err != nil {
		log.Warn("remember idempotency key", zap.Error(err))
	}
	s.outcome(span, "created", nil)
	log.Info("order placed", zap.Int64("order_id", o.ID))

	s.requestFulfillment(ctx, log, o.ID)
	return o, nil
}

func (s *Service) replay(ctx context.Context, userID int64, key string) (Order, bool, error) {
	if id, ok, err := s.idem.Lookup(ctx, userID, key); err == nil && ok {
		o, err := s.store.Get(ctx, id)
		if err == nil && o.UserID == userID && o.IdempotencyKey == key {
			return o, true, nil
		}
	}
	o, err := s.store.FindByIdempotencyKey(ctx, userID, key)
	if errors.Is(err, ErrOrderNotFound) {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, fmt.Errorf("find order by idempotency key: %w", err)
	}
	return o, true, nil
}

// requestFulfillment is fire-and-forget: it runs detached from the caller's
// cancellation and never reports back into the committed order.
func (s *Service) requestFulfillment(ctx context.Context, log *zap.Logger, orderID int64) {
	if s.fulfillment == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error("fulfillment request panicked", zap.Any("panic", r))
			}
		}()
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		if err := s.fulfillment.RequestTask(ctx, orderID); err != nil {
			s.metrics.NotificationsFailed.WithLabelValues("task_requested").Inc()
			log.Warn("fulfillment task request failed", zap.Int64("order_id", orderID), zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight fulfillment requests have returned.
func (s *Service) Wait() { s.inflight.Wait() }

// ApplyFulfillmentUpdate applies a task status reported by the fulfillment
// service. It returns false when the order does not exist.
func (s *Service) ApplyFulfillmentUpdate(ctx context.Context, orderID int64, status string, workerID *int64) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "orders.ApplyFulfillmentUpdate", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("fulfillment.status", status),
	))
	defer span.End()

	log := logging.FromContext(ctx, s.log).With(zap.Int64("order_id", orderID), zap.String("status", status))
	if workerID != nil {
		log = log.With(zap.Int64("worker_id", *workerID))
	}

	for attempt := 0; attempt < maxStatusRetries; attempt++ {
		o, err := s.store.Get(ctx, orderID)
		if errors.Is(err, ErrOrderNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("load order: %w", err)
		}

		effect, ok := EffectOf(status)
		if !ok {
			err := errs.Newf(errs.InvalidStatus, "unsupported fulfillment status: %s", status)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return false, err
		}

		err = s.apply(ctx, log, o, effect)
		if errors.Is(err, ErrStatusMismatch) {
			continue
		}
		if errors.Is(err, ErrOrderNotFound) {
			return false, nil
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return false, err
		}
		if err := s.cache.Forget(ctx, orderID); err != nil {
			log.Warn("forget cached order", zap.Error(err))
		}
		return true, nil
	}
	return false, fmt.Errorf("order %d: %w", orderID, ErrStatusMismatch)
}

func (s *Service) apply(ctx context.Context, log *zap.Logger, o Order, effect Effect) error {
	switch effect {
	case EffectDelete:
		if o.Status != StatusPending {
			log.Warn("ignoring rejection of a finished order", zap.String("order_status", string(o.Status)))
			return nil
		}
		if err := s.store.Delete(ctx, o.ID, o.Status); err != nil {
			return err
		}
		log.Info("order deleted after rejected fulfillment")
		return nil
	case EffectComplete:
		return s.moveTo(ctx, log, o, StatusCompleted)
	default:
		return s.moveTo(ctx, log, o, StatusPending)
	}
}

func (s *Service) moveTo(ctx context.Context, log *zap.Logger, o Order, to Status) error {
	if !CanTransition(o.Status, to) {
		log.Warn("ignoring fulfillment update for a finished order",
			zap.String("order_status", string(o.Status)), zap.String("target", string(to)))
		return nil
	}
	if err := s.store.UpdateStatus(ctx, o.ID, o.Status, to, s.now().UTC()); err != nil {
		return err
	}
	log.Info("order status updated", zap.String("order_status", string(to)))
	return nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (Order, error) {
	if o, ok, err := s.cache.Get(ctx, id); err == nil && ok {
		return o, nil
	}
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if err := s.cache.Set(ctx, o); err != nil {
		s.log.Warn("cache order", zap.Int64("order_id", id), zap.Error(err))
	}
	return o, nil
}

func (s *Service) outcome(span trace.Span, outcome string, err error) {
	s.metrics.OrdersPlaced.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.String("order.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
