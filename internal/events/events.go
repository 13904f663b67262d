// Package events carries verification logs from the resolver to the store over RabbitMQ.
package events

import (
	"context"
	"fmt"
)

const (
	// LogQueue holds verification log messages waiting to be stored.
	LogQueue = "verification.logs"

	dlxExchangeName = "certanchor.dlx"
	logRoutingKey   = "verification.logs"
)

// DLQName returns the dead-letter queue name for queue, e.g. dlq.verification.logs.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// MessageHandler handles a consumed verification message.
type MessageHandler func(ctx context.Context, msg VerificationMessage) error
