// Package events publishes reply lifecycle events to Kafka so that other
// services (notifications, moderation, search) can follow a profile's
// discussion without polling it.
//
// Messages are JSON-encoded domain.ReplyEvent values keyed by profile id, so
// all events of one discussion land on the same partition in order. The
// current trace context travels in the message headers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	kafka "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/tbourn/offers-comments/internal/config"
	"github.com/tbourn/offers-comments/internal/domain"
)

// HeaderEventType carries the event type so consumers can filter without
// decoding the payload.
const HeaderEventType = "event-type"

// Publisher sends reply events. Close flushes pending messages.
type Publisher interface {
	Publish(ctx context.Context, ev domain.ReplyEvent) error
	Close() error
}

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a single topic.
type KafkaPublisher struct {
	w     messageWriter
	topic string
}

// New returns a KafkaPublisher when events are enabled, else a Nop.
func New(cfg config.EventsConfig) (Publisher, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	return NewKafkaPublisher(cfg.Brokers, cfg.Topic)
}

// NewKafkaPublisher builds a writer for brokers/topic. The writer connects
// lazily, so this does not fail when brokers are unreachable.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("events: no kafka brokers configured")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("events: empty kafka topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Error().Err(err).Str("topic", topic).Int("messages", len(msgs)).Msg("kafka delivery failed")
			}
		},
	}
	return &KafkaPublisher{w: w, topic: topic}, nil
}

// Publish encodes ev and hands it to the writer.
func (p *KafkaPublisher) Publish(ctx context.Context, ev domain.ReplyEvent) error {
	msg, err := encode(ctx, ev)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		log.Warn().Err(err).
			Str("topic", p.topic).
			Str("event_type", string(ev.Type)).
			Str("reply_id", ev.ReplyID).
			Msg("publish reply event")
		return err
	}
	return nil
}

// Close flushes buffered messages and releases connections.
func (p *KafkaPublisher) Close() error { return p.w.Close() }

func encode(ctx context.Context, ev domain.ReplyEvent) (kafka.Message, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make([]kafka.Header, 0, len(carrier)+1)
	headers = append(headers, kafka.Header{Key: HeaderEventType, Value: []byte(ev.Type)})
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{
		Key:     []byte(ev.Key()),
		Value:   body,
		Headers: headers,
		Time:    ev.OccurredAt,
	}, nil
}

// Nop discards events, logging them at debug level.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(ctx context.Context, ev domain.ReplyEvent) error {
	log.Debug().
		Str("event_type", string(ev.Type)).
		Str("reply_id", ev.ReplyID).
		Str("profile_id", ev.ProfileID).
		Msg("reply event (events disabled)")
	return nil
}

// Close implements Publisher.
func (Nop) Close() error { return nil }
