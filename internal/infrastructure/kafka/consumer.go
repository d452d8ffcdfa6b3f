package kafka_infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type MessageHandler func(ctx context.Context, msg kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads one topic in a consumer group. Offsets are committed only
// after the handler succeeds.
type Consumer struct {
	reader       messageReader
	topic        string
	groupID      string
	retryBackoff time.Duration
	logger       *zap.Logger
}

func NewConsumer(brokerURLs []string, groupID, topic string, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:                brokerURLs,
		GroupID:                groupID,
		Topic:                  topic,
		MinBytes:               1,
		MaxBytes:               10e6,
		ReadBatchTimeout:       1 * time.Second,
		Logger:                 kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Debug(fmt.Sprintf(msg, args...)) }),
		ErrorLogger:            kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Error(fmt.Sprintf(msg, args...)) }),
		HeartbeatInterval:      3 * time.Second,
		CommitInterval:         0,
		PartitionWatchInterval: 5 * time.Second,
		MaxAttempts:            3,
	})
	return newConsumer(reader, groupID, topic, time.Second, logger)
}

func newConsumer(reader messageReader, groupID, topic string, retryBackoff time.Duration, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader:       reader,
		topic:        topic,
		groupID:      groupID,
		retryBackoff: retryBackoff,
		logger:       logger,
	}
}

// Consume blocks until ctx is cancelled or the reader is closed.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Kafka consumer starting", zap.String("topic", c.topic), zap.String("group_id", c.groupID))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, kafka.ErrGroupClosed) {
				c.logger.Info("Kafka consumer stopping.", zap.String("topic", c.topic))
				return nil
			}
			c.logger.Error("Failed to fetch message from Kafka", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryBackoff):
			}
			continue
		}

		if !c.handleWithRetry(ctx, handler, msg) {
			c.logger.Info("Kafka consumer stopping before commit.",
				zap.String("topic", c.topic),
				zap.Int64("offset", msg.Offset),
			)
			return nil
		}

		if commitErr := c.reader.CommitMessages(ctx, msg); commitErr != nil {
			c.logger.Error("Failed to commit offset for Kafka message",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(commitErr),
			)
		}
	}
}

// handleWithRetry runs handler on msg until it succeeds. It returns false
// when ctx is cancelled first, leaving the offset uncommitted.
func (c *Consumer) handleWithRetry(ctx context.Context, handler MessageHandler, msg kafka.Message) bool {
	for attempt := 1; ; attempt++ {
		err := handler(ctx, msg)
		if err == nil {
			return true
		}
		c.logger.Error("Error handling Kafka message, retrying",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.retryBackoff):
		}
	}
}

func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka consumer reader: %w", err)
	}
	c.logger.Info("Kafka consumer reader closed.", zap.String("topic", c.topic))
	return nil
}
