package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type MessageHandler func(ctx context.Context, key, value []byte) error

// Consumer reads a topic as part of a consumer group. Offsets are committed
// only after the handler returns, so a crash redelivers the message.
type Consumer struct {
	reader     *kafka.Reader
	logger     *zap.Logger
	maxRetries uint64
}

func NewConsumer(brokers []string, topic, groupID string, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{
		reader:     reader,
		logger:     logger.Named("kafka.consumer").With(zap.String("topic", topic), zap.String("group", groupID)),
		maxRetries: 5,
	}
}

func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read message", zap.Error(err))
			continue
		}

		if err := c.handle(ctx, handler, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			// the message is skipped; replaying the event log repairs any gap
			c.logger.Error("giving up on message",
				zap.String("key", string(msg.Key)),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Warn("failed to commit offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handler MessageHandler, msg kafka.Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second

	return backoff.RetryNotify(func() error {
		return handler(ctx, msg.Key, msg.Value)
	}, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx), func(err error, wait time.Duration) {
		c.logger.Warn("retrying message", zap.Int64("offset", msg.Offset), zap.Duration("wait", wait), zap.Error(err))
	})
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
