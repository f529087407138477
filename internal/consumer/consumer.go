package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/admetry/admetry/internal/aggregate"
	"github.com/admetry/admetry/internal/broker"
	"github.com/admetry/admetry/internal/metrics"
	"github.com/admetry/admetry/internal/models"
)

// DeliverySource opens a prefetch-1 consuming channel for one queue.
// *broker.Connection is the production implementation.
type DeliverySource interface {
	Consume(queue string) (<-chan amqp.Delivery, error)
}

// Consumer bridges the durable queues to the aggregate store. Each queue is
// consumed on its own goroutine with prefetch 1, so the three kinds proceed
// concurrently while each individual queue is strictly serial.
//
// A message is acknowledged only after every Add derived from it has been
// applied. A crash between Add and ack means the broker redelivers and the
// event is counted again: at-least-once by design, never lost.
type Consumer struct {
	source  DeliverySource
	store   *aggregate.Store
	deriver aggregate.Deriver
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New wires a consumer to an established broker connection and a store.
func New(source DeliverySource, store *aggregate.Store, deriver aggregate.Deriver, logger *zap.Logger, m *metrics.Metrics) *Consumer {
	return &Consumer{
		source:  source,
		store:   store,
		deriver: deriver,
		logger:  logger,
		metrics: m,
	}
}

// Run subscribes to all event queues and blocks until ctx is cancelled or
// every delivery channel closes (a fatal transport error). All queues are
// opened before any consuming starts, so a failure on one queue aborts
// startup with no goroutine left running.
func (c *Consumer) Run(ctx context.Context) error {
	queues := broker.Queues()
	deliveries := make([]<-chan amqp.Delivery, len(queues))
	for i, queue := range queues {
		ch, err := c.source.Consume(queue)
		if err != nil {
			return fmt.Errorf("failed to start consuming: %w", err)
		}
		deliveries[i] = ch
	}

	var wg sync.WaitGroup
	for i, queue := range queues {
		wg.Add(1)
		go func(queue string, ch <-chan amqp.Delivery) {
			defer wg.Done()
			c.consumeLoop(ctx, queue, ch)
		}(queue, deliveries[i])
		c.logger.Info("consuming queue", zap.String("queue", queue))
	}
	wg.Wait()
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context, queue string, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed", zap.String("queue", queue))
				return
			}
			c.handle(queue, d)
		}
	}
}

func (c *Consumer) handle(queue string, d amqp.Delivery) {
	if err := c.processBody(queue, d.Body, time.Now()); err != nil {
		// Malformed body. Reject without requeue so the queue's DLX
		// policy (when configured) captures the poison message instead
		// of redelivering it in a tight loop.
		c.logger.Error("rejecting malformed message",
			zap.String("queue", queue),
			zap.Error(err),
		)
		if c.metrics != nil {
			c.metrics.RecordDecodeFailure(queue)
		}
		if err := d.Nack(false, false); err != nil {
			c.logger.Error("nack failed", zap.String("queue", queue), zap.Error(err))
		}
		return
	}

	if err := d.Ack(false); err != nil {
		// The accounting already happened; the broker will redeliver
		// and the event will be counted twice. At-least-once.
		c.logger.Error("ack failed", zap.String("queue", queue), zap.Error(err))
		return
	}
	if c.metrics != nil {
		c.metrics.RecordConsumed(queue)
	}
}

// processBody decodes body as the kind implied by its queue, derives the
// bucket keys and folds them into the store. Only decode errors are
// possible; accumulation itself cannot fail.
func (c *Consumer) processBody(queue string, body []byte, now time.Time) error {
	switch queue {
	case broker.QueueImpression:
		var p models.ImpressionPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return fmt.Errorf("failed to decode impression: %w", err)
		}
		c.store.Apply(c.deriver.FromImpression(&p, now))

	case broker.QueueClick:
		var p models.ClickPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return fmt.Errorf("failed to decode click: %w", err)
		}
		c.store.Apply(c.deriver.FromClick(&p, now))

	case broker.QueueConversion:
		var p models.ConversionPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return fmt.Errorf("failed to decode conversion: %w", err)
		}
		c.store.Apply(c.deriver.FromConversion(&p, now))

	default:
		return fmt.Errorf("unknown queue %q", queue)
	}
	return nil
}
