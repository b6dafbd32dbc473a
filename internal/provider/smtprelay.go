package provider

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"juninpagos/backend/internal/config"
)

// SMTPRelay 通过 SMTP 中继发送邮件，未配置 Resend 时使用
type SMTPRelay struct {
	dialer *gomail.Dialer
	domain string
	logger *zap.Logger
}

// NewSMTPRelay 创建 SMTP 中继发送器
func NewSMTPRelay(cfg config.SMTPRelayConfig, logger *zap.Logger) (*SMTPRelay, error) {
	if cfg.Host == "" {
		return nil, ErrNotConfigured
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	return &SMTPRelay{
		dialer: gomail.NewDialer(cfg.Host, port, cfg.Username, cfg.Password),
		domain: cfg.Host,
		logger: logger,
	}, nil
}

// Send 发送邮件，返回生成的 Message-ID
func (s *SMTPRelay) Send(ctx context.Context, msg OutgoingMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	messageID := uuid.NewString()

	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.From, msg.FromName)
	m.SetAddressHeader("To", msg.To, msg.ToName)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", "<"+messageID+"@"+s.domain+">")
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	if msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	} else {
		m.SetBody("text/html", msg.HTML)
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return "", fmt.Errorf("smtp relay send: %w", err)
	}
	s.logger.Debug("email sent via smtp relay", zap.String("to", msg.To), zap.String("message_id", messageID))
	return messageID, nil
}
