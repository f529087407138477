package broker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Durable queue names, one per event kind. The routing key of a delivery is
// its queue name.
const (
	QueueImpression = "impression"
	QueueClick      = "click"
	QueueConversion = "conversion"
)

// Queues lists all event queues in declaration order.
func Queues() []string {
	return []string{QueueImpression, QueueClick, QueueConversion}
}

// DLQFor returns the dead-letter queue name paired with a primary queue.
func DLQFor(queue string) string { return queue + "-dlq" }

// Connection wraps one AMQP connection. Channels are opened per consumer
// queue and per publisher on top of it.
type Connection struct {
	conn   *amqp.Connection
	logger *zap.Logger
}

// Dial connects to the broker with bounded retries and a fixed delay
// between attempts. On exhaustion the last error is returned; callers that
// cannot run without the broker should treat that as fatal.
func Dial(url string, retries int, delay time.Duration, logger *zap.Logger) (*Connection, error) {
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			logger.Info("connected to broker", zap.Int("attempt", attempt))
			return &Connection{conn: conn, logger: logger}, nil
		}
		lastErr = err
		logger.Warn("broker not available, retrying",
			zap.Int("attempt", attempt),
			zap.Int("retries", retries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		time.Sleep(delay)
	}
	return nil, fmt.Errorf("broker unreachable after %d attempts: %w", retries, lastErr)
}

// Close closes the underlying connection and all channels on it.
func (c *Connection) Close() error {
	return c.conn.Close()
}

// NotifyClose registers for transport-level connection errors.
func (c *Connection) NotifyClose() <-chan *amqp.Error {
	return c.conn.NotifyClose(make(chan *amqp.Error, 1))
}

// Consume declares queue as durable, sets prefetch to 1 and returns the
// delivery channel. Prefetch 1 serializes processing per queue: the broker
// withholds the next message until the previous one is acknowledged, which
// is both the backpressure mechanism and the crash-loss bound.
func (c *Connection) Consume(queue string) (<-chan amqp.Delivery, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel for %s: %w", queue, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set prefetch on %s: %w", queue, err)
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s: %w", queue, err)
	}
	return deliveries, nil
}

// Publisher publishes persistent messages to the event queues, falling back
// to the paired dead-letter queue when the primary publish fails.
type Publisher struct {
	ch     *amqp.Channel
	logger *zap.Logger
}

// NewPublisher opens a channel and declares every event queue and its DLQ
// up front so publishes never race a missing queue.
func NewPublisher(c *Connection) (*Publisher, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open publisher channel: %w", err)
	}
	for _, q := range Queues() {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("failed to declare queue %s: %w", q, err)
		}
		if _, err := ch.QueueDeclare(DLQFor(q), true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("failed to declare queue %s: %w", DLQFor(q), err)
		}
	}
	return &Publisher{ch: ch, logger: c.logger}, nil
}

// Publish sends body to queue with persistent delivery. If the primary
// publish fails the message is diverted to the queue's DLQ; dlq reports that
// fallback. An error is returned only when both publishes fail.
func (p *Publisher) Publish(ctx context.Context, queue string, body []byte) (dlq bool, err error) {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}
	err = p.ch.PublishWithContext(ctx, "", queue, false, false, msg)
	if err == nil {
		return false, nil
	}
	p.logger.Warn("primary publish failed, diverting to DLQ",
		zap.String("queue", queue),
		zap.Error(err),
	)
	if err := p.ch.PublishWithContext(ctx, "", DLQFor(queue), false, false, msg); err != nil {
		return false, fmt.Errorf("publish to %s and %s failed: %w", queue, DLQFor(queue), err)
	}
	return true, nil
}

// Close closes the publisher channel.
func (p *Publisher) Close() error {
	return p.ch.Close()
}
