package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/GarupanOjisan/voice-summary-sub000/internal/observability/metrics"
)

// Publisher publishes transcript events to separate Kafka topics: one
// for aggregated batches and one for final segments. When Kafka is
// disabled it degrades to log-only mode.
type Publisher struct {
	writerBatch *kafka.Writer
	writerFinal *kafka.Writer
	principal   string
	topicBatch  string
	topicFinal  string
	enabled     bool
	metrics     *metrics.Metrics
}

// PublisherConfig holds Kafka publisher configuration.
type PublisherConfig struct {
	Brokers    []string
	TopicBatch string
	TopicFinal string
	Principal  string
	Enabled    bool
}

// NewPublisher creates a Kafka publisher with separate writers for
// batch and final-segment topics.
func NewPublisher(cfg *PublisherConfig) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{enabled: false, metrics: m}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:  cfg.Principal,
			topicBatch: cfg.TopicBatch,
			topicFinal: cfg.TopicFinal,
			enabled:    false,
			metrics:    m,
		}
	}

	// Longer dial timeouts for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	writerBatch := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicBatch,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
	writerFinal := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicFinal,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicBatch", cfg.TopicBatch).
		Str("topicFinal", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerBatch: writerBatch,
		writerFinal: writerFinal,
		principal:   cfg.Principal,
		topicBatch:  cfg.TopicBatch,
		topicFinal:  cfg.TopicFinal,
		enabled:     true,
		metrics:     m,
	}
}

// PublishBatch publishes an aggregated transcript batch.
func (p *Publisher) PublishBatch(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerBatch, p.topicBatch, key, event)
}

// PublishFinal publishes a final transcript segment.
func (p *Publisher) PublishFinal(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerFinal, p.topicFinal, key, event)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerBatch != nil {
		if e := p.writerBatch.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing batch writer")
			err = e
		}
	}
	if p.writerFinal != nil {
		if e := p.writerFinal.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing final writer")
			err = e
		}
	}
	return err
}

// Relay forwards batch and final-segment events from the bus to Kafka.
// Run blocks until the context is cancelled or the bus closes.
func Relay(ctx context.Context, bus *Bus, pub *Publisher) {
	ch := bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case BatchProcessed:
				if e.Batch != nil {
					_ = pub.PublishBatch(ctx, e.Batch.SessionID, e.Batch)
				}
			case TranscriptionResult:
				if e.Segment.IsFinal {
					_ = pub.PublishFinal(ctx, e.SessionID, e.Segment)
				}
			}
		}
	}
}
