package service

import (
	"context"

	"juninpagos/backend/internal/domain"
)

// Live event types pushed to connected admin clients.
const (
	EventEmailReceived = "email.received"
	EventEmailStatus   = "email.status"
	EventLeadCreated   = "lead.created"
)

// Broadcaster pushes live events to admin clients.
type Broadcaster interface {
	Broadcast(eventType string, data interface{})
}

// LeadPublisher hands newly stored leads to the notification pipeline.
type LeadPublisher interface {
	PublishLeadCreated(ctx context.Context, lead domain.Lead) error
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, interface{}) {}

type nopPublisher struct{}

func (nopPublisher) PublishLeadCreated(context.Context, domain.Lead) error { return nil }
