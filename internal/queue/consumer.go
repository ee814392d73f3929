package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/invoice-importer/internal/observability"
	"github.com/kursadbilgin/invoice-importer/internal/retry"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RetryPublisher parks a failed job until its next attempt is due.
type RetryPublisher interface {
	PublishRetry(ctx context.Context, msg ImportMessage, attempt int, delay time.Duration) error
}

type RabbitMQConsumer struct {
	client   *RabbitMQ
	retries  RetryPublisher
	policy   retry.Policy
	prefetch int
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewRabbitMQConsumer consumes WorkQueue. A failed delivery is republished
// through retries with policy.Delay(attempt) while policy.ShouldRetry holds;
// after that it is rejected into the dead-letter queue.
func NewRabbitMQConsumer(client *RabbitMQ, retries RetryPublisher, policy retry.Policy, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		retries:  retries,
		policy:   policy,
		prefetch: prefetch,
		logger:   logger,
	}
}

func (c *RabbitMQConsumer) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := minRedialBackoff
	for {
		err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = minRedialBackoff
			continue
		}
		c.logger.Warn("consumer loop interrupted, reconnecting", zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxRedialBackoff {
			backoff = maxRedialBackoff
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		WorkQueue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", WorkQueue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	var msg ImportMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Warn("rejecting message: invalid JSON",
			zap.Error(err),
			zap.String("routingKey", d.RoutingKey),
		)
		c.metrics.IncJobDeadLettered()
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid message: %w", rejectErr)
		}
		return nil
	}

	if err := msg.Validate(); err != nil {
		c.logger.Warn("rejecting message: validation failed", zap.Error(err))
		c.metrics.IncJobDeadLettered()
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid payload: %w", rejectErr)
		}
		return nil
	}

	msg.Attempt = attemptFromHeaders(d.Headers)
	if msg.CorrelationID == "" {
		msg.CorrelationID = d.CorrelationId
	}

	handlerErr := handler(ctx, msg)
	if handlerErr == nil {
		if err := d.Ack(false); err != nil {
			return fmt.Errorf("failed to ack delivery: %w", err)
		}
		return nil
	}

	// Shutdown mid-job: hand the message back untouched so the next worker
	// resumes it without spending an attempt.
	if ctx.Err() != nil {
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("handler interrupted and nack failed: %w", nackErr)
		}
		return nil
	}

	logger := c.logger.With(
		zap.String("batchId", msg.BatchID),
		zap.String("correlationId", msg.CorrelationID),
		zap.Int("attempt", msg.Attempt),
	)

	if !c.policy.ShouldRetry(msg.Attempt, handlerErr) || c.retries == nil {
		logger.Error("import job exhausted its attempts, dead-lettering", zap.Error(handlerErr))
		c.metrics.IncJobDeadLettered()
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to dead-letter delivery: %w", rejectErr)
		}
		return nil
	}

	delay := c.policy.Delay(msg.Attempt)
	if err := c.retries.PublishRetry(ctx, msg, msg.Attempt+1, delay); err != nil {
		logger.Warn("failed to schedule retry, requeueing", zap.Error(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("retry publish failed and nack failed: %w", nackErr)
		}
		return nil
	}

	logger.Warn("import job failed, retry scheduled",
		zap.Error(handlerErr),
		zap.Duration("delay", delay),
		zap.Int("nextAttempt", msg.Attempt+1),
	)
	c.metrics.IncJobRedelivery()
	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack retried delivery: %w", err)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
