package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cardpay/internal/config"

	"github.com/IBM/sarama"
)

// MessageHandler 处理一条消息，返回错误时同一条消息会被重试
type MessageHandler func(ctx context.Context, key, value []byte) error

// Consumer Kafka 消费组，至少一次投递：处理成功后才提交位点
type Consumer struct {
	group      sarama.ConsumerGroup
	topics     []string
	handler    MessageHandler
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewConsumerGroup(cfg *config.KafkaConfig) (sarama.ConsumerGroup, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Version = sarama.V2_1_0_0
	kafkaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	kafkaConfig.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return group, nil
}

func NewConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, logger *slog.Logger) *Consumer {
	return &Consumer{
		group:      group,
		topics:     topics,
		handler:    handler,
		logger:     logger.With("component", "kafka-consumer"),
		minBackoff: 200 * time.Millisecond,
		maxBackoff: 10 * time.Second,
	}
}

// Start 阻塞运行，直到 ctx 取消
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("consumer started", "topics", c.topics)
	for {
		if err := c.group.Consume(ctx, c.topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			c.logger.Error("consume failed", "error", err)
		}
		if ctx.Err() != nil {
			c.logger.Info("consumer stopped")
			return
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.process(session.Context(), msg); err != nil {
				return err
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// process 失败时退避重试同一条消息，直到成功或会话结束
func (c *Consumer) process(ctx context.Context, msg *sarama.ConsumerMessage) error {
	backoff := c.minBackoff
	for attempt := 1; ; attempt++ {
		err := c.handler(ctx, msg.Key, msg.Value)
		if err == nil {
			return nil
		}
		c.logger.Warn("message handling failed, retrying",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}
