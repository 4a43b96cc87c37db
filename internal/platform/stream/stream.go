// Package stream publishes committed audit entries to downstream consumers
// (compliance archives, hospital notification workers) over Kafka.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Event is one message on the stream.
type Event struct {
	Key     string
	Type    string
	Payload interface{}
}

// Publisher delivers events. Implementations must not block the caller on
// broker round trips.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// KafkaPublisher writes JSON events to a single topic. Writes are
// asynchronous; delivery failures are reported through onFailure.
type KafkaPublisher struct {
	writer    *kafka.Writer
	logger    zerolog.Logger
	onFailure func(n int, err error)
}

func NewKafkaPublisher(cfg KafkaConfig, logger zerolog.Logger, onFailure func(n int, err error)) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka publisher requires a topic")
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	p := &KafkaPublisher{
		logger:    logger.With().Str("component", "stream").Str("topic", cfg.Topic).Logger(),
		onFailure: onFailure,
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion:   p.complete,
	}
	return p, nil
}

func (p *KafkaPublisher) complete(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	p.logger.Error().Err(err).Int("messages", len(messages)).Msg("audit stream delivery failed")
	if p.onFailure != nil {
		p.onFailure(len(messages), err)
	}
}

// Publish enqueues ev. Events with the same key land on the same partition,
// so a patient's audit trail stays ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	msg, err := encode(ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Ping dials the first reachable broker, for health checks.
func Ping(ctx context.Context, brokers []string) error {
	var lastErr error
	for _, b := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

func encode(ev Event) (kafka.Message, error) {
	value, err := json.Marshal(ev.Payload)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	return kafka.Message{
		Key:   []byte(ev.Key),
		Value: value,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "event-type", Value: []byte(ev.Type)},
			{Key: "source-service", Value: []byte("medvault")},
		},
	}, nil
}

// Nop discards every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
