package smtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"juninpagos/backend/internal/config"
	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/security"
	"juninpagos/backend/internal/service"
)

const (
	maxMessageBytes = 10 << 20 // 10MB
	maxRecipients   = 50
	storeTimeout    = 30 * time.Second
)

// InboundReceiver 保存收到的邮件
type InboundReceiver interface {
	ReceiveInbound(ctx context.Context, msg service.InboundMessage) (*domain.Email, error)
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接收发往本系统邮箱账户的邮件，不做中继。RCPT 阶段校验收件人，
// 未知或停用的账户一律 550。
type Backend struct {
	accounts service.AccountResolver
	receiver InboundReceiver
	limiter  *ConnectionLimiter
	filter   *security.InboundFilter
	logger   *zap.Logger
}

// NewBackend 创建 SMTP Backend。limiter 为 nil 时不限流。
func NewBackend(accounts service.AccountResolver, receiver InboundReceiver, limiter *ConnectionLimiter, logger *zap.Logger) *Backend {
	return &Backend{
		accounts: accounts,
		receiver: receiver,
		limiter:  limiter,
		filter:   security.NewInboundFilter(),
		logger:   logger,
	}
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	ip := remoteIP(c)
	if b.limiter != nil && !b.limiter.Allow(ip) {
		b.logger.Warn("smtp connection rate limited", zap.String("ip", ip))
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections, try again later",
		}
	}
	return &session{backend: b, remoteIP: ip}, nil
}

func remoteIP(c *gosmtp.Conn) string {
	if c == nil || c.Conn() == nil {
		return "unknown"
	}
	addr := c.Conn().RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

type session struct {
	backend    *Backend
	remoteIP   string
	from       string
	recipients []string
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = normalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令，只接受激活的邮箱账户。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)
	if !strings.Contains(addr, "@") {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	account, err := s.backend.accounts.ResolveAccount(ctx, addr)
	if err != nil {
		s.backend.logger.Error("smtp recipient lookup failed", zap.String("rcpt", addr), zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary lookup failure",
		}
	}
	if account == nil || !account.IsActive {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "recipient mailbox not found",
		}
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 解析邮件并按收件人逐个保存。
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(io.LimitReader(r, maxMessageBytes))
	if err != nil {
		return err
	}

	parsed, err := ParseEmail(raw)
	if err != nil {
		if parsed == nil {
			s.backend.logger.Warn("rejecting unparseable smtp message", zap.String("ip", s.remoteIP), zap.Error(err))
			return &gosmtp.SMTPError{
				Code:         554,
				EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
				Message:      "malformed message",
			}
		}
		// 头部已解析，正文部分缺失仍然保存
		s.backend.logger.Warn("partial smtp message", zap.String("ip", s.remoteIP), zap.Error(err))
	}

	verdict := s.backend.filter.Check(parsed.Subject, parsed.Text, parsed.HTML, parsed.Attachments)
	if verdict.Reject {
		s.backend.logger.Warn("rejecting smtp message",
			zap.String("ip", s.remoteIP),
			zap.String("from", s.from),
			zap.String("reason", verdict.Reason),
		)
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "message rejected by content policy",
		}
	}
	if verdict.Spam {
		s.backend.logger.Info("possible spam accepted", zap.String("ip", s.remoteIP), zap.String("reason", verdict.Reason))
	}

	from := s.from
	if parsed.From != "" {
		from = parsed.From
	}
	if parsed.FromName != "" {
		from = fmt.Sprintf("%s <%s>", parsed.FromName, from)
	}
	receivedAt := time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	var errs []error
	for _, rcpt := range s.recipients {
		_, err := s.backend.receiver.ReceiveInbound(ctx, service.InboundMessage{
			From:          from,
			To:            rcpt,
			Subject:       parsed.Subject,
			HTML:          parsed.HTML,
			Text:          parsed.Text,
			ReceivedAt:    receivedAt,
			RawPayload:    string(raw),
			Channel:       service.ChannelSMTP,
			ContentLoaded: true,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.backend.logger.Error("failed to store smtp message", zap.String("from", from), zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary storage failure",
		}
	}

	s.backend.logger.Info("smtp message received",
		zap.String("from", from),
		zap.Strings("to", s.recipients),
		zap.Int("size", len(raw)),
		zap.Int("attachments", len(parsed.Attachments)),
	)
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	return nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}

// Server 只收件的 SMTP 服务器
type Server struct {
	smtp    *gosmtp.Server
	limiter *ConnectionLimiter
	logger  *zap.Logger
}

// NewServer 创建 SMTP 服务器
func NewServer(cfg config.SMTPConfig, accounts service.AccountResolver, receiver InboundReceiver, logger *zap.Logger) *Server {
	limiter := NewConnectionLimiter(cfg.Rate, cfg.Burst)
	srv := gosmtp.NewServer(NewBackend(accounts, receiver, limiter, logger))
	srv.Addr = cfg.BindAddr
	srv.Domain = cfg.Domain
	srv.ReadTimeout = 30 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.MaxMessageBytes = maxMessageBytes
	srv.MaxRecipients = maxRecipients
	srv.AllowInsecureAuth = false

	return &Server{smtp: srv, limiter: limiter, logger: logger}
}

// Run 监听直到 ctx 取消
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("smtp server listening", zap.String("addr", s.smtp.Addr), zap.String("domain", s.smtp.Domain))
		errCh <- s.smtp.ListenAndServe()
	}()

	sweep := time.NewTicker(10 * time.Minute)
	defer sweep.Stop()

	for {
		select {
		case err := <-errCh:
			if errors.Is(err, gosmtp.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("smtp server: %w", err)
		case <-sweep.C:
			s.limiter.Sweep(30 * time.Minute)
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.smtp.Shutdown(shutdownCtx); err != nil {
				s.logger.Warn("smtp shutdown", zap.Error(err))
				_ = s.smtp.Close()
			}
			s.logger.Info("smtp server stopped")
			return nil
		}
	}
}
