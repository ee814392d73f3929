package queue

import (
	"context"
	"fmt"
	"time"
)

// Publisher publishes import job messages.
type Publisher interface {
	Publish(ctx context.Context, msg ImportMessage) error
	Close() error
}

// MessageHandler handles a consumed import job. A nil error acknowledges the
// delivery; any other result is redelivered under the consumer's policy.
type MessageHandler func(ctx context.Context, msg ImportMessage) error

// Consumer consumes import job messages from the work queue.
type Consumer interface {
	Consume(ctx context.Context, handler MessageHandler) error
	Close() error
}

const (
	// WorkQueue receives one message per import batch.
	WorkQueue = "imports"
	// AttemptHeader carries the 1-based delivery attempt of a job.
	AttemptHeader = "x-delivery-attempt"

	dlqRoutingKey = "imports.dead"
)

// DLQName returns the dead-letter queue of the import work queue.
func DLQName() string {
	return fmt.Sprintf("dlq.%s", WorkQueue)
}

// RetryQueueName returns the holding queue for jobs waiting delay before
// their next attempt, e.g. imports.retry.30s.
func RetryQueueName(delay time.Duration) string {
	return fmt.Sprintf("%s.retry.%ds", WorkQueue, retrySeconds(delay))
}

// QueueNames returns every queue the topology declares for delays.
func QueueNames(delays []time.Duration) []string {
	specs := topologyFor(delays)
	names := make([]string, 0, len(specs))
	names = append(names, WorkQueue, DLQName())
	for _, spec := range specs[2:] {
		names = append(names, spec.name)
	}
	return names
}

func retrySeconds(delay time.Duration) int64 {
	seconds := int64((delay + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}
