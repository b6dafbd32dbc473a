package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"

	"juninpagos/backend/internal/monitoring"
	"juninpagos/backend/internal/provider"
	"juninpagos/backend/internal/queue"
)

// argentina 用于通知中的时间显示
var argentina = time.FixedZone("ART", -3*60*60)

// LeadNotifier 新线索到达时通知销售人员
type LeadNotifier struct {
	sender     provider.Sender
	from       string
	fromName   string
	recipients []string
	metrics    *monitoring.Metrics
	logger     *zap.Logger
}

// NewLeadNotifier 创建线索通知器。sender 可以是 SMTP 中继或邮件服务商。
func NewLeadNotifier(sender provider.Sender, from, fromName string, recipients []string, metrics *monitoring.Metrics, logger *zap.Logger) *LeadNotifier {
	return &LeadNotifier{
		sender:     sender,
		from:       from,
		fromName:   fromName,
		recipients: recipients,
		metrics:    metrics,
		logger:     logger,
	}
}

// Handle 给每个收件人发送一封通知。部分失败时返回合并后的错误。
func (n *LeadNotifier) Handle(ctx context.Context, ev queue.LeadCreatedEvent) error {
	if len(n.recipients) == 0 || n.sender == nil {
		n.logger.Debug("lead notification skipped, no recipients", zap.Int64("lead_id", ev.LeadID))
		return nil
	}

	subject, htmlBody, textBody := renderLeadNotification(ev)

	var errs []error
	for _, to := range n.recipients {
		_, err := n.sender.Send(ctx, provider.OutgoingMessage{
			From:     n.from,
			FromName: n.fromName,
			To:       to,
			Subject:  subject,
			HTML:     htmlBody,
			Text:     textBody,
		})
		if err != nil {
			n.metrics.RecordLeadNotification("failed")
			errs = append(errs, fmt.Errorf("notify %s: %w", to, err))
			continue
		}
		n.metrics.RecordLeadNotification("sent")
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	n.logger.Info("lead notification sent",
		zap.Int64("lead_id", ev.LeadID),
		zap.Int("recipients", len(n.recipients)),
	)
	return nil
}

func renderLeadNotification(ev queue.LeadCreatedEvent) (subject, htmlBody, textBody string) {
	subject = "Nuevo lead: " + ev.Nombre

	phone := ev.Telefono
	if ev.TelefonoE164 != "" {
		phone = ev.Telefono + " (" + ev.TelefonoE164 + ")"
	}
	localidad := ev.Localidad
	if localidad == "" {
		localidad = "-"
	}
	received := ev.CreatedAt.In(argentina).Format("02/01/2006 15:04")

	var text strings.Builder
	fmt.Fprintf(&text, "Nombre: %s\n", ev.Nombre)
	fmt.Fprintf(&text, "Teléfono: %s\n", phone)
	fmt.Fprintf(&text, "Localidad: %s\n", localidad)
	fmt.Fprintf(&text, "Recibido: %s\n", received)

	htmlBody = fmt.Sprintf(
		"<h2>Nuevo lead #%d</h2><p><strong>Nombre:</strong> %s<br><strong>Teléfono:</strong> %s<br><strong>Localidad:</strong> %s<br><strong>Recibido:</strong> %s</p>",
		ev.LeadID,
		html.EscapeString(ev.Nombre),
		html.EscapeString(phone),
		html.EscapeString(localidad),
		received,
	)
	return subject, htmlBody, text.String()
}
