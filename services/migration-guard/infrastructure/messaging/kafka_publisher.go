package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
)

// KafkaConfig configures the publish hooks. PublishRate caps messages per
// second across topics; zero disables the limit.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers"`
	ClientID     string        `mapstructure:"client_id" yaml:"client_id"`
	EventsTopic  string        `mapstructure:"events_topic" yaml:"events_topic"`
	AlertsTopic  string        `mapstructure:"alerts_topic" yaml:"alerts_topic"`
	AuditTopic   string        `mapstructure:"audit_topic" yaml:"audit_topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	PublishRate  float64       `mapstructure:"publish_rate" yaml:"publish_rate"`
	PublishBurst int           `mapstructure:"publish_burst" yaml:"publish_burst"`
}

// DefaultKafkaConfig returns the publisher defaults
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		ClientID:     "migration-guard",
		EventsTopic:  "migration-guard.events",
		AlertsTopic:  "migration-guard.alerts",
		AuditTopic:   "migration-guard.audit",
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		MaxAttempts:  3,
		PublishRate:  200,
		PublishBurst: 50,
	}
}

// Validate checks the configuration
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka publisher requires at least one broker")
	}
	if c.EventsTopic == "" || c.AlertsTopic == "" || c.AuditTopic == "" {
		return errors.New("kafka publisher requires events, alerts and audit topics")
	}
	if c.PublishRate < 0 || c.PublishBurst < 0 {
		return errors.New("kafka publish rate and burst must not be negative")
	}
	return nil
}

// MessageWriter is the subset of *kafka.Writer the publisher needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublisherStats counts publish outcomes
type PublisherStats struct {
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
}

// KafkaPublisher forwards monitoring events, alerts and audit entries to
// Kafka. It implements the event, alert and audit hooks of the service layer.
type KafkaPublisher struct {
	writer  MessageWriter
	config  KafkaConfig
	limiter *rate.Limiter
	logger  *zap.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// NewKafkaPublisher creates a publisher with a hash-balanced writer so that
// messages sharing a key keep their order within a partition
func NewKafkaPublisher(config KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Balancer:     &kafka.Hash{},
		MaxAttempts:  config.MaxAttempts,
		BatchTimeout: config.BatchTimeout,
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Lz4,
		Transport:    &kafka.Transport{ClientID: config.ClientID},
	}
	return NewKafkaPublisherWithWriter(writer, config, logger), nil
}

// NewKafkaPublisherWithWriter wraps an existing writer. Messages carry their
// topic, so the writer must not have one set.
func NewKafkaPublisherWithWriter(writer MessageWriter, config KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &KafkaPublisher{
		writer: writer,
		config: config,
		logger: logger.Named("kafka-publisher"),
	}
	if config.PublishRate > 0 {
		burst := config.PublishBurst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(config.PublishRate), burst)
	}
	return p
}

// PublishEvent writes the event keyed by correlation id
func (p *KafkaPublisher) PublishEvent(ctx context.Context, event *entity.MonitoringEvent) error {
	return p.publish(ctx, p.config.EventsTopic, event.CorrelationID, event, []kafka.Header{
		{Key: "event_type", Value: []byte(event.Type)},
		{Key: "severity", Value: []byte(event.Severity)},
		{Key: "correlation_id", Value: []byte(event.CorrelationID)},
	})
}

// PublishAlert writes the alert keyed by its grouping key
func (p *KafkaPublisher) PublishAlert(ctx context.Context, alert *entity.Alert) error {
	return p.publish(ctx, p.config.AlertsTopic, alert.Key, alert, []kafka.Header{
		{Key: "event_type", Value: []byte(alert.Type)},
		{Key: "severity", Value: []byte(alert.Severity)},
	})
}

// PublishAudit writes the audit entry keyed by actor
func (p *KafkaPublisher) PublishAudit(ctx context.Context, entry *entity.AuditEntry) error {
	return p.publish(ctx, p.config.AuditTopic, entry.Actor, entry, []kafka.Header{
		{Key: "action", Value: []byte(entry.Action)},
		{Key: "outcome", Value: []byte(entry.Outcome)},
		{Key: "correlation_id", Value: []byte(entry.CorrelationID)},
	})
}

func (p *KafkaPublisher) publish(ctx context.Context, topic, key string, payload interface{}, headers []kafka.Header) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", topic, err)
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			p.failed.Add(1)
			return fmt.Errorf("publish to %s throttled: %w", topic, err)
		}
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
		Time:    time.Now().UTC(),
	})
	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("Failed to publish message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	p.published.Add(1)
	return nil
}

// Stats returns publish counters
func (p *KafkaPublisher) Stats() PublisherStats {
	return PublisherStats{Published: p.published.Load(), Failed: p.failed.Load()}
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
