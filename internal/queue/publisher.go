package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPublishNacked is returned when the broker refuses to take ownership of
// a message.
var ErrPublishNacked = errors.New("broker nacked message")

// RabbitMQPublisher publishes on a confirm-mode channel and waits for the
// broker ack, so a nil error means the job is durable in its queue.
type RabbitMQPublisher struct {
	client *RabbitMQ
	now    func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, now: time.Now}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, msg ImportMessage) error {
	return p.send(ctx, WorkQueue, msg, 1)
}

// PublishRetry parks msg in the holding queue for delay. The queue TTL
// dead-letters it back to the work queue.
func (p *RabbitMQPublisher) PublishRetry(ctx context.Context, msg ImportMessage, attempt int, delay time.Duration) error {
	return p.send(ctx, RetryQueueName(delay), msg, attempt)
}

func (p *RabbitMQPublisher) send(ctx context.Context, routingKey string, msg ImportMessage, attempt int) error {
	if p == nil || p.client == nil {
		return errors.New("publisher is not initialized")
	}

	publishing, err := buildPublishing(msg, attempt, p.now())
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable publisher confirms: %w", err)
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", routingKey, false, false, publishing)
	if err != nil {
		return fmt.Errorf("publish batch %s to %q: %w", msg.BatchID, routingKey, err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm for batch %s: %w", msg.BatchID, err)
	}
	if !acked {
		return fmt.Errorf("publish batch %s to %q: %w", msg.BatchID, routingKey, ErrPublishNacked)
	}
	return nil
}

func buildPublishing(msg ImportMessage, attempt int, now time.Time) (amqp.Publishing, error) {
	if err := msg.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid import message: %w", err)
	}
	if attempt < 1 {
		attempt = 1
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode import message: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     now.UTC(),
		MessageId:     msg.BatchID,
		CorrelationId: msg.CorrelationID,
		Headers:       amqp.Table{AttemptHeader: int32(attempt)},
		Body:          body,
	}, nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
