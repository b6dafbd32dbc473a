package provider

import (
	"context"
	"errors"
)

// ErrNotConfigured 未配置邮件服务商
var ErrNotConfigured = errors.New("email provider not configured")

// OutgoingMessage is one email handed to a provider.
type OutgoingMessage struct {
	From     string
	FromName string
	To       string
	ToName   string
	Subject  string
	HTML     string
	Text     string
	ReplyTo  string
}

// ReceivedContent is the body of a message the provider received for us.
type ReceivedContent struct {
	HTML string
	Text string
}

// Sender delivers outgoing email and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, msg OutgoingMessage) (string, error)
}

// ContentFetcher loads the full content of an inbound message.
type ContentFetcher interface {
	FetchReceived(ctx context.Context, id string) (ReceivedContent, error)
}

// formatAddress renders "Name <addr>" or the bare address.
func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return name + " <" + addr + ">"
}
