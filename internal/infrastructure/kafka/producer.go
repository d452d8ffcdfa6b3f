package kafka_infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"safepay/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NotificationProducer publishes subscription events to a single topic, keyed by user id
// so every event of one user lands on the same partition.
type NotificationProducer struct {
	writer       messageWriter
	topic        string
	writeTimeout time.Duration
	logger       *zap.Logger
}

func NewNotificationProducer(brokerURLs []string, topic string, writeTimeout time.Duration, logger *zap.Logger) *NotificationProducer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerURLs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: writeTimeout,
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		Logger:       kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Debug(fmt.Sprintf(msg, args...)) }),
		ErrorLogger:  kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Error(fmt.Sprintf(msg, args...)) }),
	}
	return newNotificationProducer(writer, topic, writeTimeout, logger)
}

func newNotificationProducer(writer messageWriter, topic string, writeTimeout time.Duration, logger *zap.Logger) *NotificationProducer {
	return &NotificationProducer{
		writer:       writer,
		topic:        topic,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

func (p *NotificationProducer) Notify(ctx context.Context, event domain.SubscriptionActivatedEvent) error {
	if event.UserID == "" {
		return errors.New("notification has no user id")
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.UserID),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "command", Value: []byte(event.Command)},
		},
	}

	produceCtx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(produceCtx, msg); err != nil {
		p.logger.Error("Failed to produce notification to Kafka",
			zap.String("topic", p.topic),
			zap.String("user_id", event.UserID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to produce notification to Kafka: %w", err)
	}
	p.logger.Debug("Notification produced to Kafka",
		zap.String("topic", p.topic),
		zap.String("user_id", event.UserID),
		zap.String("command", event.Command),
	)
	return nil
}

func (p *NotificationProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		p.logger.Error("Failed to close Kafka producer", zap.Error(err))
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	p.logger.Info("Kafka producer closed.")
	return nil
}

// EnsureTopics creates the given topics through the cluster controller, ignoring ones that already exist.
func EnsureTopics(ctx context.Context, brokerURLs []string, topics []string, logger *zap.Logger) error {
	conn, err := kafka.DialContext(ctx, "tcp", brokerURLs[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka broker for admin operations: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get kafka controller: %w", err)
	}
	controllerConn, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	topicConfigs := make([]kafka.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     3,
			ReplicationFactor: 1,
		}
	}

	if err := controllerConn.CreateTopics(topicConfigs...); err != nil {
		if errors.Is(err, kafka.TopicAlreadyExists) {
			logger.Info("Kafka topics already exist, skipping creation.", zap.Strings("topics", topics))
			return nil
		}
		return fmt.Errorf("failed to create Kafka topics: %w", err)
	}
	logger.Info("Kafka topics ensured.", zap.Strings("topics", topics))
	return nil
}
