package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/provider"
	"juninpagos/backend/internal/queue"
)

type recordingSender struct {
	mu     sync.Mutex
	sent   []provider.OutgoingMessage
	failTo string
}

func (s *recordingSender) Send(_ context.Context, msg provider.OutgoingMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.To == s.failTo {
		return "", errors.New("mailbox unavailable")
	}
	s.sent = append(s.sent, msg)
	return "id", nil
}

func TestLeadNotifier_Handle(t *testing.T) {
	ev := queue.LeadCreatedEvent{
		LeadID:       42,
		Nombre:       "Ana <b>",
		Telefono:     "2364 15-123456",
		TelefonoE164: "+5492364123456",
		Localidad:    "Junín",
		CreatedAt:    time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC),
	}

	t.Run("every recipient", func(t *testing.T) {
		sender := &recordingSender{}
		n := NewLeadNotifier(sender, "leads@juninpagos.com", "Junin Pagos", []string{"a@juninpagos.com", "b@juninpagos.com"}, nil, zap.NewNop())

		require.NoError(t, n.Handle(context.Background(), ev))
		require.Len(t, sender.sent, 2)

		msg := sender.sent[0]
		assert.Equal(t, "leads@juninpagos.com", msg.From)
		assert.Equal(t, "Nuevo lead: Ana <b>", msg.Subject)
		assert.Contains(t, msg.HTML, "Ana &lt;b&gt;")
		assert.Contains(t, msg.Text, "+5492364123456")
		assert.Contains(t, msg.Text, "01/03/2024 12:00")
	})

	t.Run("partial failure", func(t *testing.T) {
		sender := &recordingSender{failTo: "b@juninpagos.com"}
		n := NewLeadNotifier(sender, "leads@juninpagos.com", "", []string{"a@juninpagos.com", "b@juninpagos.com"}, nil, zap.NewNop())

		err := n.Handle(context.Background(), ev)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "b@juninpagos.com")
		assert.Len(t, sender.sent, 1)
	})

	t.Run("no recipients", func(t *testing.T) {
		sender := &recordingSender{}
		n := NewLeadNotifier(sender, "leads@juninpagos.com", "", nil, nil, zap.NewNop())

		require.NoError(t, n.Handle(context.Background(), ev))
		assert.Empty(t, sender.sent)
	})
}

func TestInline_PublishRunsHandler(t *testing.T) {
	var got queue.LeadCreatedEvent
	p := NewInline(func(_ context.Context, ev queue.LeadCreatedEvent) error {
		got = ev
		return errors.New("ignored")
	}, zap.NewNop())

	err := p.PublishLeadCreated(context.Background(), domain.Lead{ID: 9, Nombre: "Luis"})
	require.NoError(t, err)
	p.Wait()

	assert.Equal(t, int64(9), got.LeadID)
	assert.Equal(t, "Luis", got.Nombre)
}
