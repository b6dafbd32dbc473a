package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	svix "github.com/svix/svix-webhooks/go"
	"go.uber.org/zap"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/monitoring"
	"juninpagos/backend/internal/provider"
	"juninpagos/backend/internal/storage"
)

// Inbound channels.
const (
	ChannelWebhook = "webhook"
	ChannelSMTP    = "smtp"
)

// deliveryStatuses maps provider delivery events onto email statuses.
var deliveryStatuses = map[string]domain.EmailStatus{
	domain.EventEmailSent:       domain.StatusSent,
	domain.EventEmailDelivered:  domain.StatusDelivered,
	domain.EventEmailBounced:    domain.StatusBounced,
	domain.EventEmailComplained: domain.StatusComplained,
	domain.EventEmailOpened:     domain.StatusOpened,
	domain.EventEmailClicked:    domain.StatusClicked,
}

// SupportedWebhookEvents lists the provider events the endpoint understands.
var SupportedWebhookEvents = []string{
	domain.EventEmailSent,
	domain.EventEmailDelivered,
	domain.EventEmailBounced,
	domain.EventEmailComplained,
	domain.EventEmailOpened,
	domain.EventEmailClicked,
	domain.EventEmailReceived,
}

// WebhookEvent is the provider callback body.
type WebhookEvent struct {
	Type      string           `json:"type"`
	CreatedAt string           `json:"created_at"`
	Data      WebhookEventData `json:"data"`

	// Raw is the undecoded body, kept for the audit log.
	Raw []byte `json:"-"`
}

// WebhookEventData is the metadata part of a provider callback.
type WebhookEventData struct {
	EmailID   string   `json:"email_id"`
	From      string   `json:"from"`
	To        []string `json:"to"`
	Subject   string   `json:"subject"`
	CreatedAt string   `json:"created_at,omitempty"`
}

// InboundMessage is a received email before it is stored.
type InboundMessage struct {
	ResendID   string
	From       string
	To         string
	Subject    string
	HTML       string
	Text       string
	ReceivedAt time.Time
	RawPayload string
	Channel    string
	// ContentLoaded skips the provider fetch; set when the body arrived with
	// the message.
	ContentLoaded bool
}

// WebhookOptions wires the optional collaborators of WebhookService.
type WebhookOptions struct {
	SigningSecret string
	AllowUnsigned bool

	Fetcher     provider.ContentFetcher
	Accounts    AccountResolver
	Leads       LeadMatcher
	Threads     ThreadMatcher
	Broadcaster Broadcaster
	Metrics     *monitoring.Metrics
}

// WebhookService 处理邮件服务商回调：投递状态和入站邮件
type WebhookService struct {
	store         storage.Store
	verifier      *svix.Webhook
	allowUnsigned bool
	fetcher       provider.ContentFetcher
	accounts      AccountResolver
	leads         LeadMatcher
	threads       ThreadMatcher
	broadcaster   Broadcaster
	metrics       *monitoring.Metrics
	logger        *zap.Logger
	now           func() time.Time
}

// NewWebhookService 创建 Webhook 服务
func NewWebhookService(store storage.Store, opts WebhookOptions, logger *zap.Logger) (*WebhookService, error) {
	s := &WebhookService{
		store:         store,
		allowUnsigned: opts.AllowUnsigned,
		fetcher:       opts.Fetcher,
		accounts:      opts.Accounts,
		leads:         opts.Leads,
		threads:       opts.Threads,
		broadcaster:   opts.Broadcaster,
		metrics:       opts.Metrics,
		logger:        logger,
		now:           time.Now,
	}

	if opts.SigningSecret != "" {
		wh, err := svix.NewWebhook(opts.SigningSecret)
		if err != nil {
			return nil, fmt.Errorf("invalid webhook signing secret: %w", err)
		}
		s.verifier = wh
	}
	if s.accounts == nil {
		s.accounts = NewCachedAccountResolver(store, time.Minute)
	}
	if s.leads == nil {
		s.leads = NewRecentRecipientLeadMatcher(store)
	}
	if s.threads == nil {
		s.threads = NewSubjectThreadMatcher(store)
	}
	if s.broadcaster == nil {
		s.broadcaster = nopBroadcaster{}
	}
	return s, nil
}

// Verify checks the provider signature headers against the raw body. Without
// a signing secret every request is rejected unless unsigned callbacks were
// explicitly allowed.
func (s *WebhookService) Verify(payload []byte, headers http.Header) error {
	if s.verifier == nil {
		if s.allowUnsigned {
			return nil
		}
		return ErrInvalidSignature
	}
	if err := s.verifier.Verify(payload, headers); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// Handle records the callback in the audit log and applies it.
func (s *WebhookService) Handle(ctx context.Context, ev WebhookEvent) error {
	entry := &domain.WebhookLog{
		EventType: ev.Type,
		Payload:   string(ev.Raw),
	}
	if ev.Data.EmailID != "" {
		id := ev.Data.EmailID
		entry.ResendID = &id
	}
	if err := s.store.CreateWebhookLog(ctx, entry); err != nil {
		s.metrics.RecordWebhookEvent(ev.Type, "error")
		return fmt.Errorf("store webhook log: %w", err)
	}

	if ev.Type == domain.EventEmailReceived {
		return s.handleReceived(ctx, ev, entry.ID)
	}

	status, ok := deliveryStatuses[ev.Type]
	if !ok {
		s.logger.Info("webhook event ignored", zap.String("type", ev.Type))
		s.metrics.RecordWebhookEvent(ev.Type, "ignored")
		return nil
	}
	if ev.Data.EmailID == "" {
		s.logger.Warn("delivery event without email id", zap.String("type", ev.Type))
		s.metrics.RecordWebhookEvent(ev.Type, "ignored")
		return nil
	}

	email, err := s.store.ApplyDeliveryEvent(ctx, domain.DeliveryEvent{
		ResendID:   ev.Data.EmailID,
		Status:     status,
		OccurredAt: s.now().UTC(),
		Opened:     ev.Type == domain.EventEmailOpened,
		Clicked:    ev.Type == domain.EventEmailClicked,
	})
	if errors.Is(err, storage.ErrNotFound) {
		// 服务商会重投，本地只记录不重试
		s.logger.Warn("delivery event for unknown email",
			zap.String("type", ev.Type),
			zap.String("resend_id", ev.Data.EmailID),
		)
		s.metrics.RecordWebhookEvent(ev.Type, "unknown")
		return nil
	}
	if err != nil {
		s.metrics.RecordWebhookEvent(ev.Type, "error")
		return fmt.Errorf("apply delivery event: %w", err)
	}

	s.markProcessed(ctx, entry.ID)
	s.metrics.RecordWebhookEvent(ev.Type, "processed")
	s.broadcaster.Broadcast(EventEmailStatus, map[string]interface{}{
		"id":        email.ID,
		"resend_id": ev.Data.EmailID,
		"status":    email.Status,
	})
	s.logger.Info("webhook processed",
		zap.String("type", ev.Type),
		zap.String("email_id", email.ID),
		zap.String("status", string(email.Status)),
	)
	return nil
}

func (s *WebhookService) handleReceived(ctx context.Context, ev WebhookEvent, logID string) error {
	// 服务商至少投递一次，同一封邮件可能重复回调
	if ev.Data.EmailID != "" {
		existing, err := s.store.GetEmailByResendID(ctx, ev.Data.EmailID)
		switch {
		case err == nil:
			s.logger.Info("inbound email already recorded",
				zap.String("resend_id", ev.Data.EmailID),
				zap.String("email_id", existing.ID),
			)
			s.markProcessed(ctx, logID)
			s.metrics.RecordWebhookEvent(ev.Type, "duplicate")
			return nil
		case !errors.Is(err, storage.ErrNotFound):
			s.metrics.RecordWebhookEvent(ev.Type, "error")
			return fmt.Errorf("lookup inbound email: %w", err)
		}
	}

	to := ""
	if len(ev.Data.To) > 0 {
		to = ev.Data.To[0]
	}
	receivedAt := parseEventTime(ev.CreatedAt)
	if receivedAt.IsZero() {
		receivedAt = s.now().UTC()
	}

	_, err := s.ReceiveInbound(ctx, InboundMessage{
		ResendID:   ev.Data.EmailID,
		From:       ev.Data.From,
		To:         to,
		Subject:    ev.Data.Subject,
		ReceivedAt: receivedAt,
		RawPayload: string(ev.Raw),
		Channel:    ChannelWebhook,
	})
	if err != nil {
		s.metrics.RecordWebhookEvent(ev.Type, "error")
		return err
	}

	s.markProcessed(ctx, logID)
	s.metrics.RecordWebhookEvent(ev.Type, "processed")
	return nil
}

// ReceiveInbound stores a received email. Enrichment (content fetch, account,
// lead and thread matching) is best effort; only the final insert may fail
// the call.
func (s *WebhookService) ReceiveInbound(ctx context.Context, msg InboundMessage) (*domain.Email, error) {
	html, text := msg.HTML, msg.Text
	if !msg.ContentLoaded && msg.ResendID != "" && s.fetcher != nil {
		content, err := s.fetcher.FetchReceived(ctx, msg.ResendID)
		if err != nil {
			s.logger.Warn("failed to fetch inbound content", zap.String("resend_id", msg.ResendID), zap.Error(err))
		} else {
			html, text = content.HTML, content.Text
		}
	}

	fromName, fromEmail := domain.ParseAddress(msg.From)
	if html == "" {
		html = fmt.Sprintf("<p>Email recibido de %s</p>", fromEmail)
	}

	email := &domain.Email{
		Direction:  domain.DirectionInbound,
		Subject:    msg.Subject,
		BodyHTML:   html,
		FromEmail:  fromEmail,
		FromName:   fromName,
		ToEmail:    msg.To,
		Status:     domain.StatusDelivered,
		Folder:     domain.FolderInbox,
		IsRead:     false,
		RawPayload: msg.RawPayload,
	}
	if text != "" {
		email.BodyText = &text
	}
	if msg.ResendID != "" {
		id := msg.ResendID
		email.ResendID = &id
	}
	if !msg.ReceivedAt.IsZero() {
		at := msg.ReceivedAt.UTC()
		email.SentAt = &at
	}

	if account, err := s.accounts.ResolveAccount(ctx, msg.To); err != nil {
		s.logger.Warn("failed to resolve inbound account", zap.String("to", msg.To), zap.Error(err))
	} else if account != nil {
		email.EmailAccountID = &account.ID
	}

	leadID, err := s.leads.MatchLead(ctx, fromEmail)
	if err != nil {
		s.logger.Warn("failed to match inbound lead", zap.String("from", fromEmail), zap.Error(err))
	}
	email.LeadID = leadID

	thread, err := s.threads.MatchThread(ctx, leadID, msg.Subject)
	if err != nil {
		s.logger.Warn("failed to match inbound thread", zap.String("subject", msg.Subject), zap.Error(err))
	} else {
		email.ThreadID = &thread.ID
	}

	if err := s.store.CreateEmail(ctx, email); err != nil {
		if errors.Is(err, storage.ErrDuplicate) && msg.ResendID != "" {
			// 并发重投，另一次回调已经入库
			s.logger.Info("inbound email stored concurrently", zap.String("resend_id", msg.ResendID))
			return s.store.GetEmailByResendID(ctx, msg.ResendID)
		}
		s.logger.Error("failed to store inbound email", zap.String("from", fromEmail), zap.Error(err))
		return nil, fmt.Errorf("store inbound email: %w", err)
	}

	channel := msg.Channel
	if channel == "" {
		channel = ChannelWebhook
	}
	s.metrics.RecordInboundEmail(channel)
	s.broadcaster.Broadcast(EventEmailReceived, email)
	s.logger.Info("inbound email recorded",
		zap.String("email_id", email.ID),
		zap.String("channel", channel),
		zap.String("from", fromEmail),
		zap.Stringp("thread_id", email.ThreadID),
	)
	return email, nil
}

func (s *WebhookService) markProcessed(ctx context.Context, logID string) {
	if err := s.store.MarkWebhookProcessed(ctx, logID); err != nil {
		s.logger.Warn("failed to mark webhook processed", zap.String("log_id", logID), zap.Error(err))
	}
}

func parseEventTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999-07"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
