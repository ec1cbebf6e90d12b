// Package publisher implements the Publisher Port: a single
// publish(topic, payload) -> message_id operation backed by Kafka.
package publisher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/notifyhub/service-notification-processor/pkg/logger"
	"github.com/notifyhub/service-notification-processor/pkg/metrics"
)

// Config holds Kafka producer configuration.
type Config struct {
	Brokers           []string
	Compression       sarama.CompressionCodec
	MaxRetries        int
	RetryBackoff      time.Duration
	ConnectionTimeout time.Duration
}

// Publisher is the outbound port used by the processor's fan-out handlers.
// Its only operation is Publish; the processor issues many
// concurrently per incoming message but never batches them.
type Publisher interface {
	Publish(ctx context.Context, topic string, body []byte) (messageID string, err error)
	Close() error
}

type kafkaPublisher struct {
	producer sarama.SyncProducer
	log      *logger.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// New creates a Kafka-backed Publisher.
func New(cfg Config, log *logger.Logger, m *metrics.Metrics) (Publisher, error) {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Compression = cfg.Compression
	sc.Producer.Retry.Max = cfg.MaxRetries
	sc.Producer.Retry.Backoff = cfg.RetryBackoff
	sc.Net.DialTimeout = cfg.ConnectionTimeout
	sc.Net.ReadTimeout = cfg.ConnectionTimeout
	sc.Net.WriteTimeout = cfg.ConnectionTimeout

	// Idempotent delivery keeps the producer's own internal retries from
	// duplicating a publish; a republish after upstream redelivery is not
	// covered, so the downstream is still expected to tolerate duplicates
	// end to end.
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("publisher: create producer: %w", err)
	}

	return &kafkaPublisher{
		producer: producer,
		log:      log,
		metrics:  m,
		tracer:   trace.NewNoopTracerProvider().Tracer("notifier-publisher"),
	}, nil
}

// Publish sends body to topic and returns a stable message identifier
// derived from the partition/offset the broker assigned. A failure here is
// transient and the caller surfaces it upstream for redelivery.
func (p *kafkaPublisher) Publish(ctx context.Context, topic string, body []byte) (string, error) {
	start := time.Now()

	_, span := p.tracer.Start(ctx, "publisher.publish",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", topic),
			attribute.Int("messaging.message_payload_size_bytes", len(body)),
		),
	)
	defer span.End()

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(body),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if p.metrics != nil {
			p.metrics.ObservePublish(topic, "error", time.Since(start))
		}
		p.log.Error("publish failed", zap.String("topic", topic), zap.Error(err))
		return "", fmt.Errorf("publisher: send to %s: %w", topic, err)
	}

	messageID := topic + "-" + strconv.FormatInt(int64(partition), 10) + "-" + strconv.FormatInt(offset, 10)
	span.SetAttributes(
		attribute.Int64("messaging.kafka.partition", int64(partition)),
		attribute.Int64("messaging.kafka.offset", offset),
	)
	if p.metrics != nil {
		p.metrics.ObservePublish(topic, "ok", time.Since(start))
	}
	p.log.Debug("published", zap.String("topic", topic), zap.String("message_id", messageID))

	return messageID, nil
}

// NewWithProducer wraps an existing sarama.SyncProducer, letting tests
// inject sarama/mocks.NewSyncProducer instead of dialing real brokers.
func NewWithProducer(producer sarama.SyncProducer, log *logger.Logger, m *metrics.Metrics) Publisher {
	return &kafkaPublisher{
		producer: producer,
		log:      log,
		metrics:  m,
		tracer:   trace.NewNoopTracerProvider().Tracer("notifier-publisher"),
	}
}

func (p *kafkaPublisher) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("publisher: close: %w", err)
	}
	return nil
}
