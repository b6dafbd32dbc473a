package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/provider"
	"juninpagos/backend/internal/storage/memory"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// tickingClock advances one second per call.
func tickingClock() func() time.Time {
	t := testEpoch
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newMemoryStore() *memory.Store {
	return memory.NewStore().WithClock(tickingClock())
}

func ptr[T any](v T) *T { return &v }

// fakeSender records outgoing messages.
type fakeSender struct {
	mu   sync.Mutex
	sent []provider.OutgoingMessage
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg provider.OutgoingMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return "re_" + msg.To, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeFetcher serves inbound content by provider id.
type fakeFetcher struct {
	content map[string]provider.ReceivedContent
	err     error
	calls   int
}

func (f *fakeFetcher) FetchReceived(_ context.Context, id string) (provider.ReceivedContent, error) {
	f.calls++
	if f.err != nil {
		return provider.ReceivedContent{}, f.err
	}
	return f.content[id], nil
}

// recordingBroadcaster keeps every broadcast event type.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) Broadcast(eventType string, _ interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
}

func (b *recordingBroadcaster) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

func seedEmail(store *memory.Store, e domain.Email) *domain.Email {
	if e.Status == "" {
		e.Status = domain.StatusSent
	}
	if e.Folder == "" {
		if e.Direction == domain.DirectionInbound {
			e.Folder = domain.FolderInbox
		} else {
			e.Folder = domain.FolderSent
		}
	}
	if e.FromEmail == "" {
		e.FromEmail = "ventas@juninpagos.com"
	}
	if e.ToEmail == "" {
		e.ToEmail = "cliente@example.com"
	}
	if err := store.CreateEmail(context.Background(), &e); err != nil {
		panic(err)
	}
	return &e
}

func seedThread(store *memory.Store, leadID *int64, subject string) *domain.EmailThread {
	thread := &domain.EmailThread{LeadID: leadID, Subject: subject}
	if err := store.CreateThread(context.Background(), thread); err != nil {
		panic(err)
	}
	return thread
}

var nopLogger = zap.NewNop()
