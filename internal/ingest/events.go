package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/notify"
)

// EventPublisher is a notify.Sink writing observer events to a topic, keyed
// by ride id when the event carries one.
type EventPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewEventPublisher(brokers []string, topic string) *EventPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &EventPublisher{writer: w, timeout: 2 * time.Second}
}

func (p *EventPublisher) Name() string { return "kafka" }

func (p *EventPublisher) Publish(ctx context.Context, ev notify.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	var keyed struct {
		Data struct {
			RideID   string `json:"ride_id"`
			DriverID string `json:"driver_id"`
		} `json:"data"`
	}
	_ = json.Unmarshal(b, &keyed)
	key := keyed.Data.RideID
	if key == "" {
		key = keyed.Data.DriverID
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   b,
		Headers: []kafka.Header{{Key: "event", Value: []byte(ev.Type)}},
	})
}

func (p *EventPublisher) Close() error { return p.writer.Close() }
