package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"juninpagos/backend/internal/pool"
)

// Handler 处理一条线索事件，返回错误时消息进入死信队列
type Handler func(ctx context.Context, ev LeadCreatedEvent) error

// consumeChannel 是 *amqp.Channel 的消费部分
type consumeChannel interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Consumer 消费线索通知队列
type Consumer struct {
	ch      consumeChannel
	workers int
	logger  *zap.Logger
}

// NewConsumer 创建消费者
func NewConsumer(ch consumeChannel, workers int, logger *zap.Logger) *Consumer {
	if workers < 1 {
		workers = 1
	}
	return &Consumer{ch: ch, workers: workers, logger: logger}
}

// Run 消费直到 ctx 取消或 channel 关闭。消息在协程池中处理，
// 成功 ack，失败 nack 且不重新入队。
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	deliveries, err := c.ch.Consume(
		QueueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", QueueName, err)
	}

	c.logger.Info("lead notification consumer started", zap.String("queue", QueueName), zap.Int("workers", c.workers))
	return c.process(ctx, deliveries, handler)
}

func (c *Consumer) process(ctx context.Context, deliveries <-chan amqp.Delivery, handler Handler) error {
	workers := pool.NewWorkerPool(c.workers, c.workers, c.logger)
	workers.Start(ctx)
	defer workers.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("delivery channel closed")
			}
			if err := workers.Submit(ctx, func(ctx context.Context) {
				c.handle(ctx, d, handler)
			}); err != nil {
				// 未处理的消息在 channel 关闭后由 broker 重新投递
				return nil
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery, handler Handler) {
	var ev LeadCreatedEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.logger.Warn("malformed lead event", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	if err := handler(ctx, ev); err != nil {
		c.logger.Error("lead event handling failed",
			zap.Int64("lead_id", ev.LeadID),
			zap.Error(err),
		)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// Close 关闭消费 channel
func (c *Consumer) Close() error {
	return c.ch.Close()
}
