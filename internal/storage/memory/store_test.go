package memory

import (
	"context"
	"testing"
	"time"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tickingClock returns a clock that advances one second per call.
func tickingClock() func() time.Time {
	t := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newTestStore() *Store {
	return NewStore().WithClock(tickingClock())
}

func ptr[T any](v T) *T { return &v }

func TestMemoryStore_LeadOperations(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	for _, name := range []string{"Carla", "ana", "Beto"} {
		lead := &domain.Lead{Nombre: name, Telefono: "2364 123456", Localidad: "Junín"}
		require.NoError(t, store.CreateLead(ctx, lead))
		assert.NotZero(t, lead.ID)
		assert.Equal(t, domain.LeadNuevo, lead.Estado)
	}

	leads, total, err := store.ListLeads(ctx, storage.LeadQuery{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, leads, 2)
	assert.Equal(t, "Beto", leads[0].Nombre, "newest first by default")

	leads, _, err = store.ListLeads(ctx, storage.LeadQuery{Page: 1, Limit: 10, SortBy: "nombre", Ascending: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"ana", "Beto", "Carla"}, []string{leads[0].Nombre, leads[1].Nombre, leads[2].Nombre})

	lead, err := store.GetLead(ctx, 1)
	require.NoError(t, err)
	lead.Estado = domain.LeadContactado
	require.NoError(t, store.UpdateLead(ctx, lead))

	got, err := store.GetLead(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.LeadContactado, got.Estado)

	require.NoError(t, store.DeleteLead(ctx, 1))
	_, err = store.GetLead(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.DeleteLead(ctx, 1), storage.ErrNotFound)
}

func TestMemoryStore_EmailFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	emails := []*domain.Email{
		{Direction: domain.DirectionInbound, Folder: domain.FolderInbox, Status: domain.StatusDelivered, Subject: "Consulta", ToEmail: "info@juninpagos.net"},
		{Direction: domain.DirectionInbound, Folder: domain.FolderArchived, Status: domain.StatusDelivered, Subject: "Otra", ToEmail: "info@juninpagos.net", IsStarred: true},
		{Direction: domain.DirectionOutbound, Folder: domain.FolderSent, Status: domain.StatusSent, Subject: "Respuesta", ToEmail: "cliente@example.com", IsRead: true},
		{Direction: domain.DirectionOutbound, Folder: domain.FolderDrafts, Status: domain.StatusDraft, Subject: "Borrador", ToEmail: "cliente@example.com", IsRead: true, BodyText: ptr("texto con PRESUPUESTO")},
	}
	for _, e := range emails {
		require.NoError(t, store.CreateEmail(ctx, e))
	}

	t.Run("inbox means inbound regardless of folder", func(t *testing.T) {
		got, total, err := store.ListEmails(ctx, storage.EmailQuery{Folder: ptr(domain.FolderInbox), Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Equal(t, "Otra", got[0].Subject)
	})

	t.Run("sent requires outbound and sent folder", func(t *testing.T) {
		got, total, err := store.ListEmails(ctx, storage.EmailQuery{Folder: ptr(domain.FolderSent), Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, "Respuesta", got[0].Subject)
	})

	t.Run("other folders use equality", func(t *testing.T) {
		_, total, err := store.ListEmails(ctx, storage.EmailQuery{Folder: ptr(domain.FolderDrafts), Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})

	t.Run("search covers subject recipient and text body", func(t *testing.T) {
		_, total, err := store.ListEmails(ctx, storage.EmailQuery{Search: "presupuesto", Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)

		_, total, err = store.ListEmails(ctx, storage.EmailQuery{Search: "CLIENTE@", Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
	})

	t.Run("starred filter", func(t *testing.T) {
		_, total, err := store.ListEmails(ctx, storage.EmailQuery{IsStarred: ptr(true), Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})

	t.Run("counts", func(t *testing.T) {
		counts, err := store.CountFolders(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.FolderCounts{Inbox: 2, Sent: 1, Drafts: 1, Archived: 1, Trash: 0, Starred: 1, Unread: 2}, counts)
	})
}

func TestMemoryStore_ThreadStatsFollowEmails(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	thread := &domain.EmailThread{Subject: "Consulta"}
	require.NoError(t, store.CreateThread(ctx, thread))
	assert.Equal(t, 0, thread.EmailCount)

	first := &domain.Email{ThreadID: &thread.ID, Direction: domain.DirectionInbound, Folder: domain.FolderInbox, Status: domain.StatusDelivered}
	second := &domain.Email{ThreadID: &thread.ID, Direction: domain.DirectionOutbound, Folder: domain.FolderSent, Status: domain.StatusSent}
	require.NoError(t, store.CreateEmail(ctx, first))
	require.NoError(t, store.CreateEmail(ctx, second))

	got, err := store.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.EmailCount)
	require.NotNil(t, got.LastEmailAt)
	assert.True(t, got.LastEmailAt.Equal(second.CreatedAt))

	require.NoError(t, store.DeleteEmail(ctx, second.ID))
	got, err = store.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.EmailCount)

	byThread, err := store.ListEmailsByThreads(ctx, []string{thread.ID})
	require.NoError(t, err)
	require.Len(t, byThread[thread.ID], 1)
	assert.Equal(t, first.ID, byThread[thread.ID][0].ID)
}

func TestMemoryStore_ListThreadsFiltersBeforePaging(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	// 3 outbound-only threads are newer than 2 inbound ones.
	for i := 0; i < 2; i++ {
		th := &domain.EmailThread{Subject: "entrante"}
		require.NoError(t, store.CreateThread(ctx, th))
		require.NoError(t, store.CreateEmail(ctx, &domain.Email{ThreadID: &th.ID, Direction: domain.DirectionInbound, Folder: domain.FolderInbox}))
	}
	for i := 0; i < 3; i++ {
		th := &domain.EmailThread{Subject: "saliente"}
		require.NoError(t, store.CreateThread(ctx, th))
		require.NoError(t, store.CreateEmail(ctx, &domain.Email{ThreadID: &th.ID, Direction: domain.DirectionOutbound, Folder: domain.FolderSent}))
	}

	threads, total, err := store.ListThreads(ctx, storage.ThreadQuery{Direction: domain.DirectionInbound, Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, threads, 2)
	for _, th := range threads {
		assert.Equal(t, "entrante", th.Subject)
	}

	threads, total, err = store.ListThreads(ctx, storage.ThreadQuery{Direction: domain.DirectionOutbound, Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, threads, 1)
}

func TestMemoryStore_FindThreads(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	leadID := int64(7)
	older := &domain.EmailThread{Subject: "Consulta sobre cobros", LeadID: &leadID}
	newer := &domain.EmailThread{Subject: "Consulta"}
	require.NoError(t, store.CreateThread(ctx, older))
	require.NoError(t, store.CreateThread(ctx, newer))
	require.NoError(t, store.CreateEmail(ctx, &domain.Email{ThreadID: &older.ID, Direction: domain.DirectionOutbound}))
	require.NoError(t, store.CreateEmail(ctx, &domain.Email{ThreadID: &newer.ID, Direction: domain.DirectionOutbound}))

	got, err := store.FindThreadContainingSubject(ctx, "consulta")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)

	got, err = store.FindThreadBySubject(ctx, &leadID, "Consulta sobre cobros")
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID)

	_, err = store.FindThreadBySubject(ctx, nil, "Consulta sobre cobros")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryStore_ApplyDeliveryEvent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	email := &domain.Email{Direction: domain.DirectionOutbound, Status: domain.StatusSent, ResendID: ptr("re_123")}
	require.NoError(t, store.CreateEmail(ctx, email))

	first := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	got, err := store.ApplyDeliveryEvent(ctx, domain.DeliveryEvent{ResendID: "re_123", Status: domain.StatusOpened, OccurredAt: first, Opened: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpened, got.Status)
	assert.Equal(t, 1, got.OpenedCount)

	got, err = store.ApplyDeliveryEvent(ctx, domain.DeliveryEvent{ResendID: "re_123", Status: domain.StatusOpened, OccurredAt: first.Add(time.Hour), Opened: true})
	require.NoError(t, err)
	assert.Equal(t, 2, got.OpenedCount)
	assert.True(t, got.OpenedAt.Equal(first), "first open time is kept")

	got, err = store.ApplyDeliveryEvent(ctx, domain.DeliveryEvent{ResendID: "re_123", Status: domain.StatusDelivered})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpened, got.Status, "late delivered event does not regress")

	_, err = store.ApplyDeliveryEvent(ctx, domain.DeliveryEvent{ResendID: "re_unknown", Status: domain.StatusDelivered})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryStore_PatchEmailKeepsDeliveryState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	email := &domain.Email{Direction: domain.DirectionOutbound, Folder: domain.FolderSent, Status: domain.StatusSent, ResendID: ptr("re_x")}
	require.NoError(t, store.CreateEmail(ctx, email))

	// 后台先读到旧副本，之后投递事件才到达
	stale, err := store.GetEmail(ctx, email.ID)
	require.NoError(t, err)
	_, err = store.ApplyDeliveryEvent(ctx, domain.DeliveryEvent{ResendID: "re_x", Status: domain.StatusOpened, OccurredAt: time.Now(), Opened: true})
	require.NoError(t, err)

	got, err := store.PatchEmail(ctx, stale.ID, storage.EmailUpdate{IsStarred: ptr(true)})
	require.NoError(t, err)
	assert.True(t, got.IsStarred)
	assert.Equal(t, domain.StatusOpened, got.Status)
	assert.Equal(t, 1, got.OpenedCount)

	got, err = store.PatchEmail(ctx, email.ID, storage.EmailUpdate{Folder: ptr(domain.FolderArchived), IsArchived: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, domain.FolderArchived, got.Folder)
	assert.Equal(t, 1, got.OpenedCount)

	_, err = store.PatchEmail(ctx, "missing", storage.EmailUpdate{IsStarred: ptr(true)})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryStore_ResendIDIsUnique(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	require.NoError(t, store.CreateEmail(ctx, &domain.Email{Direction: domain.DirectionInbound, ResendID: ptr("re_dup")}))
	err := store.CreateEmail(ctx, &domain.Email{Direction: domain.DirectionInbound, ResendID: ptr("re_dup")})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	// SMTP 收到的邮件没有 resend_id，不受约束
	require.NoError(t, store.CreateEmail(ctx, &domain.Email{Direction: domain.DirectionInbound}))
	require.NoError(t, store.CreateEmail(ctx, &domain.Email{Direction: domain.DirectionInbound}))

	other := &domain.Email{Direction: domain.DirectionOutbound, Status: domain.StatusQueued}
	require.NoError(t, store.CreateEmail(ctx, other))
	_, err = store.PatchEmail(ctx, other.ID, storage.EmailUpdate{ResendID: ptr("re_dup")})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	_, err = store.PatchEmail(ctx, other.ID, storage.EmailUpdate{ResendID: ptr("re_new"), Status: ptr(domain.StatusSent)})
	require.NoError(t, err)
	got, err := store.GetEmailByResendID(ctx, "re_new")
	require.NoError(t, err)
	assert.Equal(t, other.ID, got.ID)
}

func TestMemoryStore_MarkEmailsReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	a := &domain.Email{Direction: domain.DirectionInbound}
	b := &domain.Email{Direction: domain.DirectionInbound}
	require.NoError(t, store.CreateEmail(ctx, a))
	require.NoError(t, store.CreateEmail(ctx, b))

	n, err := store.MarkEmailsRead(ctx, []string{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.MarkEmailsRead(ctx, []string{a.ID, b.ID})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStore_RecipientLeadAndScheduled(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	lead := &domain.Lead{Nombre: "Ana", Telefono: "2364123456"}
	require.NoError(t, store.CreateLead(ctx, lead))

	require.NoError(t, store.CreateEmail(ctx, &domain.Email{Direction: domain.DirectionOutbound, ToEmail: "ana@example.com", LeadID: &lead.ID}))
	require.NoError(t, store.CreateEmail(ctx, &domain.Email{Direction: domain.DirectionOutbound, ToEmail: "ana@example.com"}))

	leadID, err := store.FindLeadIDByRecipient(ctx, "ANA@example.com")
	require.NoError(t, err)
	require.NotNil(t, leadID)
	assert.Equal(t, lead.ID, *leadID)

	leadID, err = store.FindLeadIDByRecipient(ctx, "nadie@example.com")
	require.NoError(t, err)
	assert.Nil(t, leadID)

	now := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	due := &domain.Email{Direction: domain.DirectionOutbound, Status: domain.StatusQueued, ScheduledAt: ptr(now.Add(-time.Minute))}
	later := &domain.Email{Direction: domain.DirectionOutbound, Status: domain.StatusQueued, ScheduledAt: ptr(now.Add(time.Hour))}
	require.NoError(t, store.CreateEmail(ctx, due))
	require.NoError(t, store.CreateEmail(ctx, later))

	got, err := store.ListDueScheduled(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
}

func TestMemoryStore_TemplatesAndAccounts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	tpl := &domain.EmailTemplate{Name: "bienvenida", Subject: "Hola", BodyHTML: "<p>Hola</p>", Category: "general", IsActive: true}
	require.NoError(t, store.CreateTemplate(ctx, tpl))
	assert.ErrorIs(t, store.CreateTemplate(ctx, &domain.EmailTemplate{Name: "bienvenida"}), storage.ErrDuplicate)

	require.NoError(t, store.IncrementTemplateUsage(ctx, tpl.ID))
	got, err := store.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsageCount)

	account := &domain.EmailAccount{Email: "info@juninpagos.net", Name: "Info", Type: domain.AccountShared, IsActive: true}
	require.NoError(t, store.CreateAccount(ctx, account))

	found, err := store.GetAccountByEmail(ctx, "INFO@juninpagos.net")
	require.NoError(t, err)
	assert.Equal(t, account.ID, found.ID)

	require.NoError(t, store.GrantAccount(ctx, &domain.EmailAccountUser{EmailAccountID: account.ID, AdminUserID: "u1", CanSend: true}))
	require.NoError(t, store.GrantAccount(ctx, &domain.EmailAccountUser{EmailAccountID: account.ID, AdminUserID: "u1", CanSend: false, IsOwner: true}))

	access, err := store.ListAccountsForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, access, 1)
	assert.False(t, access[0].CanSend)
	assert.True(t, access[0].IsOwner)
}
