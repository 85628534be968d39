package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/outage-report-sync/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Header keys carried by every change-feed message.
const (
	HeaderKind       = "kind"
	HeaderAction     = "action"
	HeaderOccurredAt = "occurred_at"
)

// Writer publishes report change events to a Kafka topic.
// It implements store.EventPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the change-feed topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		// Events are published one at a time; don't hold them for a full batch.
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish writes a single change event. Messages are keyed by report id so all
// events of one report land on the same partition in order.
func (w *Writer) Publish(ctx context.Context, event domain.ReportEvent) error {
	return w.PublishBatch(ctx, []domain.ReportEvent{event})
}

// PublishBatch writes several events in one WriteMessages call.
func (w *Writer) PublishBatch(ctx context.Context, events []domain.ReportEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := serializeToMessage(events[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write report events: %w", err)
	}
	w.logger.Debug("report events published", "count", len(msgs), "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a ReportEvent into a Kafka message.
func serializeToMessage(event domain.ReportEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize report event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Report.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: HeaderKind, Value: []byte(event.Kind)},
			{Key: HeaderAction, Value: []byte(event.Action)},
			{Key: HeaderOccurredAt, Value: []byte(event.OccurredAt.Format(time.RFC3339))},
		},
	}, nil
}
