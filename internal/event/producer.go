package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fernwood/siteauth/internal/domain"
	"github.com/fernwood/siteauth/pkg/logger"
)

// writer is the subset of kafka.Writer the producer needs; tests substitute
// an in-memory implementation.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ProducerConfig holds Kafka producer configuration.
type ProducerConfig struct {
	Brokers      []string
	BatchSize    int
	BatchTimeout time.Duration
}

// DefaultProducerConfig returns sensible defaults for the Kafka producer.
func DefaultProducerConfig(brokers []string) ProducerConfig {
	return ProducerConfig{
		Brokers:      brokers,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Producer publishes auth lifecycle events.
type Producer struct {
	writer  writer
	brokers []string
	logger  *slog.Logger
}

// NewProducer creates a Kafka-backed event producer.
func NewProducer(cfg ProducerConfig, log *slog.Logger) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{writer: w, brokers: cfg.Brokers, logger: log}
}

// PublishUserRegistered emits a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TopicUserRegistered, user.ID.String(), UserRegisteredData{
		UserID: user.ID.String(),
		SiteID: user.SiteID.String(),
		Email:  user.Email,
		Role:   user.Role,
	})
}

// PublishUserVerified emits a user.verified event.
func (p *Producer) PublishUserVerified(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TopicUserVerified, user.ID.String(), UserVerifiedData{
		UserID: user.ID.String(),
		SiteID: user.SiteID.String(),
		Email:  user.Email,
	})
}

// PublishPasswordReset emits a user.password_reset event after a completed reset.
func (p *Producer) PublishPasswordReset(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TopicPasswordReset, user.ID.String(), PasswordResetData{
		UserID: user.ID.String(),
		SiteID: user.SiteID.String(),
	})
}

// PublishEmailChanged emits a user.email_changed event.
func (p *Producer) PublishEmailChanged(ctx context.Context, user *domain.User, oldEmail string) error {
	return p.publish(ctx, TopicEmailChanged, user.ID.String(), EmailChangedData{
		UserID:   user.ID.String(),
		SiteID:   user.SiteID.String(),
		OldEmail: oldEmail,
		NewEmail: user.Email,
	})
}

// PublishUserDeleted emits a user.deleted event.
func (p *Producer) PublishUserDeleted(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TopicUserDeleted, user.ID.String(), UserDeletedData{
		UserID: user.ID.String(),
		SiteID: user.SiteID.String(),
	})
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID string, data any) error {
	env, err := newEnvelope(topic, aggregateID, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	env.CorrelationID = logger.CorrelationIDFromContext(ctx)

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(aggregateID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.EventType)},
			{Key: "source", Value: []byte(env.Source)},
		},
	}
	if env.CorrelationID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "correlation_id", Value: []byte(env.CorrelationID)})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish event",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("publish event to %s: %w", topic, err)
	}

	return nil
}

// Ping dials the configured brokers and returns nil if at least one is
// reachable. Used by the readiness probe.
func (p *Producer) Ping(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}

	var lastErr error
	for _, addr := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("kafka ping: all brokers unreachable: %w", lastErr)
}

// Close flushes pending messages and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
