package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"chatline/internal/config"
	"chatline/internal/metrics"
)

// pollTimeoutMs bounds how long Consume waits before re-checking ctx.
const pollTimeoutMs = 500

// MessageHandler processes one consumed message. Errors are logged and the message is skipped.
type MessageHandler func(ctx context.Context, msg *kafka.Message) error

// MessageConsumer defines the interface for a Kafka message consumer.
type MessageConsumer interface {
	Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error
	Close()
}

// confluentKafkaConsumer is an implementation of MessageConsumer using confluent-kafka-go.
type confluentKafkaConsumer struct {
	consumer *kafka.Consumer
	cfg      config.KafkaConfig
	groupID  string
	log      *zap.Logger
}

// NewConfluentKafkaConsumer creates a consumer; the underlying client is built in Consume.
func NewConfluentKafkaConsumer(cfg config.KafkaConfig, log *zap.Logger) MessageConsumer {
	return &confluentKafkaConsumer{cfg: cfg, log: log.Named("kafka.consumer")}
}

// Consume blocks until ctx is cancelled or a fatal Kafka error occurs.
func (c *confluentKafkaConsumer) Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error {
	if len(topics) == 0 {
		return errors.New("kafka consumer: 未指定 topic")
	}
	c.groupID = groupID

	configMap := clientConfig(c.cfg)
	_ = configMap.SetKey("group.id", groupID)
	// 实时事件只对在线会话有意义，新实例不回放历史
	_ = configMap.SetKey("auto.offset.reset", "latest")
	// 每个实例独占一个消费组，处理失败也不重放，offset 交给自动提交
	_ = configMap.SetKey("enable.auto.commit", true)

	consumer, err := kafka.NewConsumer(configMap)
	if err != nil {
		return fmt.Errorf("创建 Kafka 消费者失败 (group %s): %w", groupID, err)
	}
	c.consumer = consumer

	if err := c.consumer.SubscribeTopics(topics, nil); err != nil {
		_ = c.consumer.Close()
		c.consumer = nil
		return fmt.Errorf("订阅 topic %v 失败 (group %s): %w", topics, groupID, err)
	}

	log := c.log.With(zap.String("group", groupID), zap.Strings("topics", topics))
	log.Info("Kafka 消费者已启动")

	for {
		select {
		case <-ctx.Done():
			log.Info("上下文结束，停止消费")
			return nil
		default:
		}

		ev := c.consumer.Poll(pollTimeoutMs)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if err := handler(ctx, e); err != nil {
				metrics.RealtimeDrops.WithLabelValues("kafka_handler").Inc()
				log.Error("处理 Kafka 消息失败",
					zap.Int32("partition", e.TopicPartition.Partition),
					zap.Int64("offset", int64(e.TopicPartition.Offset)),
					zap.Error(err))
			}
		case kafka.Error:
			log.Warn("Kafka 消费者错误", zap.Error(e), zap.Bool("fatal", e.IsFatal()), zap.Bool("retriable", e.IsRetriable()))
			if e.IsFatal() {
				return e
			}
		default:
			log.Debug("忽略 Kafka 事件", zap.String("event", e.String()))
		}
	}
}

// Close closes the Kafka consumer.
func (c *confluentKafkaConsumer) Close() {
	if c.consumer == nil {
		return
	}
	if err := c.consumer.Close(); err != nil {
		c.log.Warn("关闭 Kafka 消费者失败", zap.String("group", c.groupID), zap.Error(err))
	} else {
		c.log.Info("Kafka 消费者已关闭", zap.String("group", c.groupID))
	}
	c.consumer = nil
}
