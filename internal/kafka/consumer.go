package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-fulfillment-orders/internal/logging"
)

// Handler returns nil only when the message was processed and its offset
// may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r          *kafka.Reader
	workers    int
	log        *zap.Logger
	newBackOff func() backoff.BackOff
}

func NewConsumer(brokers []string, group, topic string, workers int, logger *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:          r,
		workers:    workers,
		log:        logging.OrNop(logger).With(zap.String("topic", topic), zap.String("group", group)),
		newBackOff: retryBackOff,
	}
}

// retryBackOff never gives up on its own; only the consumer context ends a
// retry loop.
func retryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Start fetches until ctx is done. Every partition is pinned to one worker,
// which handles its messages in offset order. A failed message is retried
// with backoff and blocks its partition until it succeeds, so the committed
// offset never passes an unprocessed message.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(id int, in <-chan kafka.Message) {
			defer wg.Done()
			log := c.log.With(zap.Int("worker", id))
			for m := range in {
				if err := handleWithRetry(ctx, h, m, c.newBackOff(), log); err != nil {
					// only a cancelled ctx ends the retries; the message is
					// redelivered from the last commit after restart
					return
				}
				if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
					log.Warn("commit failed", zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
				}
			}
		}(i, lanes[i])
	}
	defer func() {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case lanes[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

// handleWithRetry runs h until it succeeds or ctx is done.
func handleWithRetry(ctx context.Context, h Handler, m kafka.Message, b backoff.BackOff, log *zap.Logger) error {
	mctx := Extract(ctx, m)
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return h(mctx, m)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		log.Error("handler failed, retrying",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	})
}
