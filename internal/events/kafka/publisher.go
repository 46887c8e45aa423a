// Package kafka publishes payment lifecycle events for downstream consumers
// (wallet sync, reporting). Publishing is fire-and-forget from the caller's
// point of view: a broker outage degrades to a logged warning, never a
// failed payment.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ibimina/saccopay/internal/models"
)

// Event is the wire envelope for one payment lifecycle change.
type Event struct {
	Type       string    `json:"type"`
	PaymentID  string    `json:"payment_id"`
	SaccoID    string    `json:"sacco_id"`
	TxnID      string    `json:"txn_id"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher writes payment events to a single topic, keyed by sacco so one
// sacco's events stay ordered within a partition.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// PaymentPosted implements payments.EventPublisher.
func (p *Publisher) PaymentPosted(ctx context.Context, payment *models.Payment) error {
	return p.publish(ctx, "payment.posted", payment)
}

// PaymentSettled implements payments.EventPublisher.
func (p *Publisher) PaymentSettled(ctx context.Context, payment *models.Payment) error {
	return p.publish(ctx, "payment.settled", payment)
}

func (p *Publisher) publish(ctx context.Context, eventType string, payment *models.Payment) error {
	data, err := json.Marshal(Event{
		Type:       eventType,
		PaymentID:  payment.ID.String(),
		SaccoID:    payment.SaccoID.String(),
		TxnID:      payment.TxnID,
		Amount:     payment.Amount,
		Currency:   payment.Currency,
		Status:     string(payment.Status),
		OccurredAt: payment.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("kafka: marshal event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(payment.SaccoID.String()),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("kafka: write event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
