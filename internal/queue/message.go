package queue

import (
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ImportMessage is the broker payload asking a worker to run one batch.
type ImportMessage struct {
	BatchID       string `json:"batchId"`
	TenantID      string `json:"tenantId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`

	// Attempt is taken from the delivery headers, not the body.
	Attempt int `json:"-"`
}

func (m ImportMessage) Validate() error {
	if strings.TrimSpace(m.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	return nil
}

// attemptFromHeaders reads AttemptHeader. Brokers may hand integers back in
// any width, and a missing header means first delivery.
func attemptFromHeaders(headers amqp.Table) int {
	if headers == nil {
		return 1
	}

	var attempt int
	switch v := headers[AttemptHeader].(type) {
	case int:
		attempt = v
	case int8:
		attempt = int(v)
	case int16:
		attempt = int(v)
	case int32:
		attempt = int(v)
	case int64:
		attempt = int(v)
	case uint8:
		attempt = int(v)
	case uint16:
		attempt = int(v)
	case uint32:
		attempt = int(v)
	}

	if attempt < 1 {
		return 1
	}
	return attempt
}
