package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/certanchor/internal/repository"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// LogConsumer drains LogQueue. It redials with backoff until its context ends.
type LogConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewLogConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *LogConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LogConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

func (c *LogConsumer) Consume(ctx context.Context, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("verification log consumer interrupted", zap.Error(err), zap.Duration("retryIn", backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

func (c *LogConsumer) consumeOnce(ctx context.Context, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(LogQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", LogQueue, err)
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

// handleDelivery acks stored messages and rejects malformed ones into the DLQ. A handler
// failure is requeued once; a redelivered message that fails again is dead-lettered.
func (c *LogConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	var msg VerificationMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Warn("rejecting message: invalid JSON", zap.Error(err), zap.String("messageId", d.MessageId))
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid message: %w", rejectErr)
		}
		return nil
	}

	if err := msg.Validate(); err != nil {
		c.logger.Warn("rejecting message: validation failed", zap.Error(err), zap.String("messageId", msg.ID))
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid payload: %w", rejectErr)
		}
		return nil
	}

	if err := handler(ctx, msg); err != nil {
		requeue := !d.Redelivered
		c.logger.Error("failed to handle verification message",
			zap.String("messageId", msg.ID),
			zap.Bool("requeue", requeue),
			zap.Error(err),
		)
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}
	return nil
}

// StoreHandler appends every consumed message to the verification log store.
func StoreHandler(logs repository.VerificationLogRepository) MessageHandler {
	return func(ctx context.Context, msg VerificationMessage) error {
		entry, err := msg.ToLog()
		if err != nil {
			return err
		}
		if err := logs.Append(ctx, &entry); err != nil {
			return fmt.Errorf("failed to store verification log %s: %w", entry.ID, err)
		}
		return nil
	}
}
