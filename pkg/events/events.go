// Package events publishes verified billing events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"subscriptions/pkg/payments"
)

var ErrNoWriter = errors.New("kafka writer not configured")

// Writer is the subset of *kafka.Writer used by the service.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// BillingEvent is the message published for every accepted webhook event.
type BillingEvent struct {
	ID                string    `json:"id"`
	Type              string    `json:"type"`
	Created           time.Time `json:"created"`
	Livemode          bool      `json:"livemode"`
	ObjectType        string    `json:"object_type,omitempty"`
	ObjectID          string    `json:"object_id,omitempty"`
	Status            string    `json:"status,omitempty"`
	CustomerID        string    `json:"customer_id,omitempty"`
	SubscriptionID    string    `json:"subscription_id,omitempty"`
	ClientReferenceID string    `json:"client_reference_id,omitempty"`
	Service           string    `json:"service"`
	Received          time.Time `json:"received"`
}

// NewBillingEvent converts a verified provider event.
func NewBillingEvent(service string, ev payments.Event, received time.Time) BillingEvent {
	return BillingEvent{
		ID:                ev.ID,
		Type:              ev.Type,
		Created:           time.Unix(ev.Created, 0).UTC(),
		Livemode:          ev.Livemode,
		ObjectType:        ev.Object.Object,
		ObjectID:          ev.Object.ID,
		Status:            ev.Object.Status,
		CustomerID:        ev.Object.CustomerID,
		SubscriptionID:    ev.Object.SubscriptionID,
		ClientReferenceID: ev.Object.ClientReferenceID,
		Service:           service,
		Received:          received.UTC(),
	}
}

type Publisher struct {
	w Writer
}

func NewPublisher(w Writer) *Publisher {
	return &Publisher{w: w}
}

// Publish writes ev keyed by its ID, so all messages about one event land in
// the same partition.
func (p *Publisher) Publish(ctx context.Context, ev BillingEvent) error {
	if p == nil || p.w == nil {
		return ErrNoWriter
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal billing event %s: %w", ev.ID, err)
	}

	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write billing event %s: %w", ev.ID, err)
	}

	return nil
}

func (p *Publisher) Close() error {
	if p == nil || p.w == nil {
		return nil
	}
	return p.w.Close()
}

// NewWriter returns a writer for topic on broker. batchSize <= 0 keeps the
// kafka-go default.
func NewWriter(broker, topic string, batchSize int) *kafka.Writer {
	return &kafka.Writer{
		Addr:      kafka.TCP(broker),
		Topic:     topic,
		BatchSize: batchSize,
		Balancer:  &kafka.Hash{},
	}
}

// CreateTopic creates a single-partition topic on broker.
func CreateTopic(ctx context.Context, broker, topic string) error {
	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
}
