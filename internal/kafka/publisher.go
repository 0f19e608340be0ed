package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"melodia/internal/message"
)

var (
	publishSuccessCounter = metrics.GetOrCreateCounter(`kafka_publish_total{result="success"}`)
	publishErrorCounter   = metrics.GetOrCreateCounter(`kafka_publish_total{result="error"}`)
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

func NewPublisher(writer *kafka.Writer, logger *slog.Logger) *Publisher {
	return &Publisher{writer: writer, logger: logger}
}

// Publish writes event keyed by key, so all events of one order or job land
// on the same partition in order.
func (p *Publisher) Publish(ctx context.Context, key string, event message.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
	if err != nil {
		publishErrorCounter.Inc()
		return errors.Wrapf(err, "publish %s", event.Event)
	}

	publishSuccessCounter.Inc()
	p.logger.DebugContext(ctx, "Published event", "event", event.Event, "key", key)
	return nil
}

// NopPublisher drops events; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, message.Event) error {
	return nil
}
