package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

const defaultResendBaseURL = "https://api.resend.com"

// Resend 基于 Resend API 的发信和收信内容获取
type Resend struct {
	client  *resend.Client
	apiKey  string
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewResend 创建 Resend 客户端，baseURL 为空时使用官方地址
func NewResend(apiKey, baseURL string, logger *zap.Logger) (*Resend, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	if baseURL == "" {
		baseURL = defaultResendBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	client := resend.NewClient(apiKey)
	u, err := url.Parse(baseURL + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid resend base url: %w", err)
	}
	client.BaseURL = u

	return &Resend{
		client:  client,
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}, nil
}

// Send 发送邮件
func (r *Resend) Send(ctx context.Context, msg OutgoingMessage) (string, error) {
	req := &resend.SendEmailRequest{
		From:    formatAddress(msg.FromName, msg.From),
		To:      []string{formatAddress(msg.ToName, msg.To)},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
		ReplyTo: msg.ReplyTo,
	}

	sent, err := r.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("resend send: %w", err)
	}
	r.logger.Debug("email sent via resend", zap.String("resend_id", sent.Id), zap.String("to", msg.To))
	return sent.Id, nil
}

type receivedEmail struct {
	HTML string `json:"html"`
	Body string `json:"body"`
	Text string `json:"text"`
}

// FetchReceived 获取入站邮件的正文
func (r *Resend) FetchReceived(ctx context.Context, id string) (ReceivedContent, error) {
	endpoint := r.baseURL + "/emails/receiving/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ReceivedContent{}, err
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return ReceivedContent{}, fmt.Errorf("fetch received email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return ReceivedContent{}, fmt.Errorf("fetch received email: unexpected status %d", resp.StatusCode)
	}

	var payload receivedEmail
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ReceivedContent{}, fmt.Errorf("decode received email: %w", err)
	}

	html := payload.HTML
	if html == "" {
		html = payload.Body
	}
	return ReceivedContent{HTML: html, Text: payload.Text}, nil
}
