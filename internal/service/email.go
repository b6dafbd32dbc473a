package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/monitoring"
	"juninpagos/backend/internal/provider"
	"juninpagos/backend/internal/storage"
)

const (
	defaultEmailLimit = 50
	maxEmailLimit     = 100
	dispatchBatchSize = 50
)

// SenderIdentity is the default From/Reply-To of outgoing email.
type SenderIdentity struct {
	Address string
	Name    string
	ReplyTo string
}

// SendInput is the compose form.
type SendInput struct {
	ToEmail       string            `json:"to_email"`
	ToName        string            `json:"to_name"`
	Subject       string            `json:"subject"`
	BodyHTML      string            `json:"body_html"`
	BodyText      string            `json:"body_text"`
	LeadID        *int64            `json:"lead_id"`
	ReplyTo       string            `json:"reply_to"`
	ScheduledAt   *time.Time        `json:"scheduled_at"`
	SaveAsDraft   bool              `json:"save_as_draft"`
	TemplateID    string            `json:"template_id"`
	Variables     map[string]string `json:"variables"`
	FromEmail     string            `json:"from_email"`
	FromName      string            `json:"from_name"`
	FromAccountID string            `json:"from_account_id"`

	// AdminUserID is the authenticated sender, never taken from the body.
	AdminUserID string `json:"-"`
}

// SendResult describes what happened to a composed email.
type SendResult struct {
	Email    *domain.Email `json:"email"`
	ResendID string        `json:"resend_id,omitempty"`
	Message  string        `json:"message"`
}

// EmailFilter selects a page of emails.
type EmailFilter struct {
	Folder    string
	Status    string
	LeadID    *int64
	IsStarred *bool
	Search    string
	Page      int
	Limit     int
}

// EmailService 邮件服务：撰写、发送、列表和状态维护
type EmailService struct {
	store    storage.Store
	sender   provider.Sender
	identity SenderIdentity
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewEmailService 创建邮件服务，sender 为 nil 时所有发送都会失败
func NewEmailService(store storage.Store, sender provider.Sender, identity SenderIdentity, metrics *monitoring.Metrics, logger *zap.Logger) *EmailService {
	return &EmailService{
		store:    store,
		sender:   sender,
		identity: identity,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// RenderTemplate replaces every {{key}} in content.
func RenderTemplate(content string, variables map[string]string) string {
	for key, value := range variables {
		content = strings.ReplaceAll(content, "{{"+key+"}}", value)
	}
	return content
}

// Send composes an email and, unless it is a draft or scheduled for later,
// hands it to the provider. A provider failure is stored as a failed email
// and reported as ErrProviderFailed.
func (s *EmailService) Send(ctx context.Context, in SendInput) (*SendResult, error) {
	to := strings.TrimSpace(in.ToEmail)
	if to == "" || strings.TrimSpace(in.Subject) == "" {
		return nil, validationError("Email y asunto son requeridos")
	}
	if err := domain.ValidateEmailAddress(to); err != nil {
		return nil, validationError("Formato de email inválido")
	}

	subject, html, text := in.Subject, in.BodyHTML, in.BodyText
	var tpl *domain.EmailTemplate
	if in.TemplateID != "" {
		var err error
		tpl, err = s.store.GetTemplate(ctx, in.TemplateID)
		if err != nil {
			return nil, notFound(err, ErrTemplateNotFound)
		}
		subject = RenderTemplate(tpl.Subject, in.Variables)
		html = RenderTemplate(tpl.BodyHTML, in.Variables)
		text = ""
		if tpl.BodyText != nil {
			text = RenderTemplate(*tpl.BodyText, in.Variables)
		}
	}
	if strings.TrimSpace(html) == "" {
		return nil, validationError("Contenido del email es requerido")
	}
	if tpl != nil {
		if err := s.store.IncrementTemplateUsage(ctx, tpl.ID); err != nil {
			s.logger.Warn("failed to increment template usage", zap.String("template_id", tpl.ID), zap.Error(err))
		}
	}

	var threadID *string
	if in.LeadID != nil {
		thread, err := s.leadThread(ctx, in.LeadID, subject)
		if err != nil {
			s.logger.Warn("failed to resolve thread for lead", zap.Int64("lead_id", *in.LeadID), zap.Error(err))
		} else {
			threadID = &thread.ID
		}
	}

	fromEmail, fromName := in.FromEmail, in.FromName
	replyTo := in.ReplyTo
	if fromEmail == "" {
		fromEmail = s.identity.Address
		if replyTo == "" {
			replyTo = s.identity.ReplyTo
		}
	}
	if fromName == "" {
		fromName = s.identity.Name
	}
	if replyTo == "" {
		replyTo = fromEmail
	}

	email := &domain.Email{
		LeadID:    in.LeadID,
		ThreadID:  threadID,
		Direction: domain.DirectionOutbound,
		Subject:   subject,
		BodyHTML:  html,
		FromEmail: fromEmail,
		ToEmail:   to,
		ReplyTo:   &replyTo,
		Status:    domain.StatusQueued,
		Folder:    domain.FolderSent,
		IsRead:    true,
	}
	if text != "" {
		email.BodyText = &text
	}
	if fromName != "" {
		email.FromName = &fromName
	}
	if in.ToName != "" {
		toName := in.ToName
		email.ToName = &toName
	}
	if in.AdminUserID != "" {
		uid := in.AdminUserID
		email.AdminUserID = &uid
	}
	if in.FromAccountID != "" {
		aid := in.FromAccountID
		email.EmailAccountID = &aid
	}

	now := s.now().UTC()
	switch {
	case in.SaveAsDraft:
		email.Status = domain.StatusDraft
		email.Folder = domain.FolderDrafts
		email.ScheduledAt = in.ScheduledAt
		if err := s.store.CreateEmail(ctx, email); err != nil {
			return nil, fmt.Errorf("store draft: %w", err)
		}
		s.metrics.RecordEmailSent("draft")
		return &SendResult{Email: email, Message: "Borrador guardado"}, nil

	case in.ScheduledAt != nil && in.ScheduledAt.After(now):
		at := in.ScheduledAt.UTC()
		email.ScheduledAt = &at
		if err := s.store.CreateEmail(ctx, email); err != nil {
			return nil, fmt.Errorf("store scheduled email: %w", err)
		}
		s.metrics.RecordEmailSent("scheduled")
		s.logger.Info("email scheduled", zap.String("email_id", email.ID), zap.Time("scheduled_at", at))
		return &SendResult{Email: email, Message: "Email programado"}, nil
	}

	resendID, err := s.deliver(ctx, email)
	if err != nil {
		email.Status = domain.StatusFailed
		if storeErr := s.store.CreateEmail(ctx, email); storeErr != nil {
			s.logger.Error("failed to store failed email", zap.String("to", to), zap.Error(storeErr))
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	email.Status = domain.StatusSent
	email.SentAt = &now
	if resendID != "" {
		email.ResendID = &resendID
	}
	if err := s.store.CreateEmail(ctx, email); err != nil {
		// 已经发出，保存失败不回报错误，避免重复发送
		s.logger.Error("email sent but not stored", zap.String("resend_id", resendID), zap.Error(err))
	}
	return &SendResult{Email: email, ResendID: resendID, Message: "Email enviado correctamente"}, nil
}

func (s *EmailService) leadThread(ctx context.Context, leadID *int64, subject string) (*domain.EmailThread, error) {
	thread, err := s.store.FindThreadBySubject(ctx, leadID, subject)
	if err == nil {
		return thread, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	thread = &domain.EmailThread{LeadID: leadID, Subject: subject}
	if err := s.store.CreateThread(ctx, thread); err != nil {
		return nil, err
	}
	return thread, nil
}

// deliver hands email to the provider and records the outcome metric.
func (s *EmailService) deliver(ctx context.Context, email *domain.Email) (string, error) {
	if s.sender == nil {
		s.metrics.RecordEmailSent("failed")
		return "", provider.ErrNotConfigured
	}

	msg := provider.OutgoingMessage{
		From:    email.FromEmail,
		To:      email.ToEmail,
		Subject: email.Subject,
		HTML:    email.BodyHTML,
	}
	if email.FromName != nil {
		msg.FromName = *email.FromName
	}
	if email.ToName != nil {
		msg.ToName = *email.ToName
	}
	if email.BodyText != nil {
		msg.Text = *email.BodyText
	}
	if email.ReplyTo != nil {
		msg.ReplyTo = *email.ReplyTo
	}

	id, err := s.sender.Send(ctx, msg)
	if err != nil {
		s.metrics.RecordEmailSent("failed")
		s.logger.Error("provider send failed", zap.String("to", email.ToEmail), zap.Error(err))
		return "", err
	}
	s.metrics.RecordEmailSent("sent")
	return id, nil
}

// DispatchDue sends queued emails whose scheduled time has passed and
// returns how many were sent.
func (s *EmailService) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListDueScheduled(ctx, now, dispatchBatchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range due {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		email := &due[i]
		var update storage.EmailUpdate
		resendID, err := s.deliver(ctx, email)
		if err != nil {
			failed := domain.StatusFailed
			update.Status = &failed
		} else {
			at := now.UTC()
			status := domain.StatusSent
			update.Status = &status
			update.SentAt = &at
			if resendID != "" {
				update.ResendID = &resendID
			}
			sent++
		}
		if _, err := s.store.PatchEmail(ctx, email.ID, update); err != nil {
			s.logger.Error("failed to update dispatched email", zap.String("email_id", email.ID), zap.Error(err))
		}
	}
	if len(due) > 0 {
		s.logger.Info("scheduled emails dispatched", zap.Int("due", len(due)), zap.Int("sent", sent))
	}
	return sent, nil
}

// List returns a page of emails, newest first.
func (s *EmailService) List(ctx context.Context, f EmailFilter) (Page[domain.Email], error) {
	page, limit := clampPaging(f.Page, f.Limit, defaultEmailLimit, maxEmailLimit)

	q := storage.EmailQuery{
		LeadID:    f.LeadID,
		IsStarred: f.IsStarred,
		Search:    strings.TrimSpace(f.Search),
		Page:      page,
		Limit:     limit,
	}
	if f.Folder != "" {
		folder := domain.EmailFolder(f.Folder)
		if !folder.Valid() {
			return Page[domain.Email]{}, validationError("Folder inválido")
		}
		q.Folder = &folder
	}
	if f.Status != "" {
		status := domain.EmailStatus(f.Status)
		if !status.Valid() {
			return Page[domain.Email]{}, validationError("Estado inválido")
		}
		q.Status = &status
	}

	emails, total, err := s.store.ListEmails(ctx, q)
	if err != nil {
		return Page[domain.Email]{}, err
	}
	return newPage(emails, page, limit, total), nil
}

// Patch edits the whitelisted fields of an email. Received emails only
// accept flag and folder changes.
func (s *EmailService) Patch(ctx context.Context, id string, patch domain.EmailPatch) (*domain.Email, error) {
	if id == "" {
		return nil, validationError("ID de email requerido")
	}
	if patch.Empty() {
		return nil, validationError("No hay datos para actualizar")
	}
	if patch.Folder != nil && !patch.Folder.Movable() {
		return nil, validationError("Folder inválido")
	}

	email, err := s.store.GetEmail(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrEmailNotFound)
	}
	if email.Direction == domain.DirectionInbound && patch.TouchesContent() {
		return nil, validationError("Los emails recibidos no se pueden editar")
	}

	updated, err := s.store.PatchEmail(ctx, id, storage.EmailUpdateFromPatch(patch))
	if err != nil {
		return nil, notFound(err, ErrEmailNotFound)
	}
	return updated, nil
}

// Delete moves an email to trash, or removes it when permanent is set. The
// returned email is nil for a permanent delete.
func (s *EmailService) Delete(ctx context.Context, id string, permanent bool) (*domain.Email, error) {
	if id == "" {
		return nil, validationError("ID de email requerido")
	}
	if permanent {
		return nil, notFound(s.store.DeleteEmail(ctx, id), ErrEmailNotFound)
	}

	trash := domain.FolderTrash
	email, err := s.store.PatchEmail(ctx, id, storage.EmailUpdate{Folder: &trash})
	if err != nil {
		return nil, notFound(err, ErrEmailNotFound)
	}
	return email, nil
}

// Counts returns the folder badge numbers.
func (s *EmailService) Counts(ctx context.Context) (domain.FolderCounts, error) {
	return s.store.CountFolders(ctx)
}
