package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName = "imports.dlx"

	dialTimeout      = 15 * time.Second
	heartbeat        = 10 * time.Second
	minRedialBackoff = time.Second
	maxRedialBackoff = 30 * time.Second
)

// RabbitMQ owns the broker connection. The connection is redialed lazily
// when a caller asks for a channel, and the import topology is declared once
// per connection.
type RabbitMQ struct {
	url      string
	topology []queueSpec

	mu       sync.Mutex
	conn     *amqp.Connection
	declared bool
}

type queueSpec struct {
	name    string
	args    amqp.Table
	bindKey string
}

// NewRabbitMQ connects to url. One holding queue is declared per distinct
// retry delay.
func NewRabbitMQ(url string, retryDelays []time.Duration) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url, topology: topologyFor(retryDelays)}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.connectLocked(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declared = false
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// channel opens a fresh channel on a live connection. A channel error on an
// apparently open connection forces one redial before giving up.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for redialed := false; ; redialed = true {
		conn, err := r.connectLocked(ctx)
		if err != nil {
			return nil, err
		}

		ch, err := conn.Channel()
		if err != nil {
			if redialed {
				return nil, fmt.Errorf("open rabbitmq channel: %w", err)
			}
			_ = conn.Close()
			r.conn = nil
			continue
		}

		if !r.declared {
			if err := declareTopology(ch, r.topology); err != nil {
				_ = ch.Close()
				return nil, err
			}
			r.declared = true
		}
		return ch, nil
	}
}

// connectLocked returns the current connection or dials until ctx expires.
// r.mu must be held.
func (r *RabbitMQ) connectLocked(ctx context.Context) (*amqp.Connection, error) {
	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}

	backoff := minRedialBackoff
	for {
		conn, err := amqp.DialConfig(r.url, amqp.Config{
			Heartbeat: heartbeat,
			Locale:    "en_US",
			Properties: amqp.Table{
				"connection_name": "invoice-importer",
			},
		})
		if err == nil {
			r.conn = conn
			r.declared = false
			return conn, nil
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("connect rabbitmq: %w (last dial error: %v)", ctx.Err(), err)
		case <-timer.C:
		}
		backoff = min(backoff*2, maxRedialBackoff)
	}
}

// topologyFor lists the queues the importer relies on: the work queue that
// dead-letters into the DLQ, the DLQ itself and one TTL holding queue per
// retry delay that dead-letters back into the work queue.
func topologyFor(retryDelays []time.Duration) []queueSpec {
	specs := []queueSpec{
		{name: DLQName(), bindKey: dlqRoutingKey},
		{name: WorkQueue, args: amqp.Table{
			"x-dead-letter-exchange":    dlxExchangeName,
			"x-dead-letter-routing-key": dlqRoutingKey,
		}},
	}

	seen := make(map[string]struct{}, len(retryDelays))
	for _, delay := range retryDelays {
		name := RetryQueueName(delay)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		specs = append(specs, queueSpec{name: name, args: retryQueueArgs(delay)})
	}
	return specs
}

func declareTopology(ch *amqp.Channel, specs []queueSpec) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", dlxExchangeName, err)
	}

	for _, spec := range specs {
		if _, err := ch.QueueDeclare(spec.name, true, false, false, false, spec.args); err != nil {
			return fmt.Errorf("declare queue %q: %w", spec.name, err)
		}
		if spec.bindKey == "" {
			continue
		}
		if err := ch.QueueBind(spec.name, spec.bindKey, dlxExchangeName, false, nil); err != nil {
			return fmt.Errorf("bind queue %q: %w", spec.name, err)
		}
	}
	return nil
}

// retryQueueArgs makes expired messages flow back to the work queue through
// the default exchange.
func retryQueueArgs(delay time.Duration) amqp.Table {
	return amqp.Table{
		"x-message-ttl":             retrySeconds(delay) * 1000,
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": WorkQueue,
	}
}
