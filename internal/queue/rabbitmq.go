package queue

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	ExchangeName = "leads"
	QueueName    = "lead.notifications"
	DLQName      = "lead.notifications.dlq"
	DLXName      = "leads.dlx"
	RoutingKey   = "lead.created"
)

// RabbitMQ 持有连接，发布和消费各用一个 channel
type RabbitMQ struct {
	conn   *amqp.Connection
	logger *zap.Logger
}

// Connect 连接 RabbitMQ 并声明拓扑
func Connect(url string, logger *zap.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := setupTopology(ch); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare topology: %w", err)
	}

	logger.Info("rabbitmq connected", zap.String("exchange", ExchangeName), zap.String("queue", QueueName))
	return &RabbitMQ{conn: conn, logger: logger}, nil
}

// setupTopology 声明交换机、队列和死信队列。处理失败的消息经 DLX 进入 DLQ。
func setupTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(DLXName, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(DLQName, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(DLQName, RoutingKey, DLXName, false, nil); err != nil {
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    DLXName,
		"x-dead-letter-routing-key": RoutingKey,
	}
	if err := ch.ExchangeDeclare(ExchangeName, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, args); err != nil {
		return err
	}
	return ch.QueueBind(QueueName, RoutingKey, ExchangeName, false, nil)
}

// NewPublisher 在独立 channel 上创建发布者
func (r *RabbitMQ) NewPublisher() (*Publisher, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	return NewPublisher(ch, r.logger), nil
}

// NewConsumer 在独立 channel 上创建消费者，prefetch 等于 workers
func (r *RabbitMQ) NewConsumer(workers int) (*Consumer, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	if workers < 1 {
		workers = 1
	}
	if err := ch.Qos(workers, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return NewConsumer(ch, workers, r.logger), nil
}

// Ping 连接是否仍然可用，用于就绪检查
func (r *RabbitMQ) Ping(_ context.Context) error {
	if r.conn.IsClosed() {
		return amqp.ErrClosed
	}
	return nil
}

// Close 关闭连接
func (r *RabbitMQ) Close() error {
	if r.conn.IsClosed() {
		return nil
	}
	return r.conn.Close()
}
