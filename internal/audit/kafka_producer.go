package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/quotaflow/quotaflow/internal/config"
	"github.com/quotaflow/quotaflow/pkg/logger"
)

// kafkaWriter is the subset of kafka.Writer the producer uses; narrowed for
// testability.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer is a Kafka-backed Recorder.
type KafkaProducer struct {
	writer kafkaWriter
	logger logger.Logger
}

// NewKafkaProducer creates a denial-event producer writing to the configured
// topic.
func NewKafkaProducer(cfg config.AuditConfig, log logger.Logger) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    cfg.BatchSize,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		Async:        true, // never block the request path
	}
	return &KafkaProducer{
		writer: writer,
		logger: log.WithComponent("audit_producer"),
	}
}

// RecordDenial publishes a denial event. Failures are logged and dropped.
func (p *KafkaProducer) RecordDenial(ctx context.Context, event DenialEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error(ctx, "failed to marshal denial event", err)
		return
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.RuleID),
		Value: payload,
	}); err != nil {
		p.logger.Error(ctx, "failed to publish denial event", err,
			logger.String("rule_id", event.RuleID),
		)
	}
}

// Close flushes and closes the underlying writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
