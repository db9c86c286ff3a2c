// Package redpanda publishes interview completion events to a Redpanda/Kafka topic.
//
// Each completed interview becomes one record keyed by session id, so every
// event for a session lands on the same partition.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-mock-interview/internal/adapter/observability"
	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
)

// EventTypeCompleted is carried in the event_type header.
const EventTypeCompleted = "interview.completed"

// kafkaClient is the subset of *kgo.Client the producer needs.
type kafkaClient interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Request(ctx context.Context, req kmsg.Request) (kmsg.Response, error)
	Close()
}

// Options configures a Producer.
type Options struct {
	Brokers     []string
	Topic       string
	CreateTopic bool
	Partitions  int32
	Replicas    int16
}

// Producer implements domain.EventPublisher.
type Producer struct {
	client kafkaClient
	topic  string
}

// completedEvent is the wire shape of a completion event.
type completedEvent struct {
	EventType   string              `json:"event_type"`
	SessionID   string              `json:"session_id"`
	Role        string              `json:"role"`
	Experience  string              `json:"experience"`
	Difficulty  string              `json:"difficulty"`
	FinalReport domain.FinalReport  `json:"final_report"`
	Turns       []domain.TurnRecord `json:"full_conversation"`
	CompletedAt time.Time           `json:"completed_at"`
}

// NewProducer dials the brokers and, when asked, makes sure the topic exists.
func NewProducer(ctx context.Context, opts Options) (*Producer, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewProducer: %w: no seed brokers provided", domain.ErrInvalidArgument)
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("op=redpanda.NewProducer: %w: empty topic", domain.ErrInvalidArgument)
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(opts.Brokers...),
		kgo.DefaultProduceTopic(opts.Topic),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.WithHooks(tracingHooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewProducer: %w", err)
	}
	p := newProducer(client, opts.Topic)
	if opts.CreateTopic {
		if err := ensureTopic(ctx, client, opts.Topic, opts.Partitions, opts.Replicas); err != nil {
			// the broker may auto-create or the topic may be managed elsewhere
			slog.Warn("failed to ensure topic", slog.String("topic", opts.Topic), slog.Any("error", err))
		}
	}
	slog.Info("redpanda producer created", slog.Any("brokers", opts.Brokers), slog.String("topic", opts.Topic))
	return p, nil
}

// tracingHooks opens a publish span per record and writes its trace context
// into the record headers, so consumers continue the completing turn's trace.
func tracingHooks() []kgo.Hook {
	tracer := kotel.NewTracer(
		kotel.TracerProvider(otel.GetTracerProvider()),
		kotel.TracerPropagator(otel.GetTextMapPropagator()),
	)
	return kotel.NewKotel(kotel.WithTracer(tracer)).Hooks()
}

func newProducer(client kafkaClient, topic string) *Producer {
	return &Producer{client: client, topic: topic}
}

// PublishCompleted writes one completion event and waits for the broker ack.
func (p *Producer) PublishCompleted(ctx domain.Context, c domain.CompletedInterview) error {
	rec, err := completedRecord(p.topic, c)
	if err != nil {
		observability.RecordCompletionEvent("kafka", err)
		return err
	}
	err = p.client.ProduceSync(ctx, rec).FirstErr()
	observability.RecordCompletionEvent("kafka", err)
	if err != nil {
		return fmt.Errorf("op=redpanda.PublishCompleted: %w: %w", domain.ErrUpstream, err)
	}
	slog.Debug("completion event published", slog.String("session_id", c.SessionID), slog.String("topic", p.topic))
	return nil
}

// Close shuts down the underlying client.
func (p *Producer) Close() {
	if p.client != nil {
		p.client.Close()
	}
}

func completedRecord(topic string, c domain.CompletedInterview) (*kgo.Record, error) {
	if c.SessionID == "" {
		return nil, fmt.Errorf("op=redpanda.completedRecord: %w: empty session id", domain.ErrInvalidArgument)
	}
	b, err := json.Marshal(completedEvent{
		EventType:   EventTypeCompleted,
		SessionID:   c.SessionID,
		Role:        c.Config.Role,
		Experience:  c.Config.Experience,
		Difficulty:  c.Config.Difficulty,
		FinalReport: c.Report,
		Turns:       c.Turns,
		CompletedAt: c.CompletedAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.completedRecord: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(c.SessionID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(EventTypeCompleted)},
			{Key: "session_id", Value: []byte(c.SessionID)},
		},
	}, nil
}
