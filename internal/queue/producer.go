package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"juninpagos/backend/internal/domain"
)

// LeadCreatedEvent 新线索通知消息
type LeadCreatedEvent struct {
	LeadID       int64     `json:"lead_id"`
	Nombre       string    `json:"nombre"`
	Telefono     string    `json:"telefono"`
	TelefonoE164 string    `json:"telefono_e164,omitempty"`
	Localidad    string    `json:"localidad,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewLeadCreatedEvent 由已保存的线索构造通知消息
func NewLeadCreatedEvent(lead domain.Lead) LeadCreatedEvent {
	return LeadCreatedEvent{
		LeadID:       lead.ID,
		Nombre:       lead.Nombre,
		Telefono:     lead.Telefono,
		TelefonoE164: lead.TelefonoE164,
		Localidad:    lead.Localidad,
		CreatedAt:    lead.CreatedAt,
	}
}

// publishChannel 是 *amqp.Channel 的发布部分
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher 发布线索事件
type Publisher struct {
	mu     sync.Mutex
	ch     publishChannel
	logger *zap.Logger
}

// NewPublisher 创建发布者
func NewPublisher(ch publishChannel, logger *zap.Logger) *Publisher {
	return &Publisher{ch: ch, logger: logger}
}

// Publish 发布一条持久化消息
func (p *Publisher) Publish(ctx context.Context, ev LeadCreatedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal lead event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx,
		ExchangeName,
		RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Type:         RoutingKey,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish lead event: %w", err)
	}
	p.logger.Debug("lead event published", zap.Int64("lead_id", ev.LeadID))
	return nil
}

// PublishLeadCreated 实现 service.LeadPublisher
func (p *Publisher) PublishLeadCreated(ctx context.Context, lead domain.Lead) error {
	return p.Publish(ctx, NewLeadCreatedEvent(lead))
}

// Close 关闭发布 channel
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}
