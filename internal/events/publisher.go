package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/certanchor/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// LogPublisher publishes verification logs to LogQueue.
type LogPublisher struct {
	client *RabbitMQ
}

func NewLogPublisher(client *RabbitMQ) *LogPublisher {
	return &LogPublisher{client: client}
}

// Record publishes one verification log entry as a persistent message.
func (p *LogPublisher) Record(ctx context.Context, l domain.VerificationLog) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	msg := MessageFromLog(l)
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid verification message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal verification message: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    msg.ID,
		Body:         payload,
	}

	if err := ch.PublishWithContext(ctx, "", LogQueue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish message to queue %q: %w", LogQueue, err)
	}
	return nil
}
