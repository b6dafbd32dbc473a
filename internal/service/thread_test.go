package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/storage"
	"juninpagos/backend/internal/storage/memory"
)

func TestBuildThreadView(t *testing.T) {
	base := testEpoch
	emails := []domain.Email{
		{ID: "c", Direction: domain.DirectionOutbound, IsRead: true, CreatedAt: base.Add(3 * time.Minute)},
		{ID: "a", Direction: domain.DirectionInbound, IsRead: false, CreatedAt: base.Add(1 * time.Minute)},
		{ID: "b", Direction: domain.DirectionInbound, IsRead: true, IsStarred: true, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "d", Direction: domain.DirectionInbound, IsRead: false, CreatedAt: base.Add(4 * time.Minute)},
	}

	view := BuildThreadView(domain.EmailThread{ID: "t1", Subject: "Consulta"}, emails)

	ids := make([]string, len(view.Emails))
	for i, e := range view.Emails {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids, "conversation order is oldest first")
	require.NotNil(t, view.LastEmail)
	assert.Equal(t, "d", view.LastEmail.ID)
	assert.Equal(t, 2, view.UnreadCount)
	assert.True(t, view.HasStarred)
	assert.Equal(t, 4, view.TotalEmails)
	assert.True(t, view.HasInbound)
	assert.True(t, view.HasOutbound)
	assert.True(t, view.IsConversation)
	assert.Equal(t, "c", emails[0].ID, "input slice is not reordered")
}

func TestBuildThreadView_Empty(t *testing.T) {
	view := BuildThreadView(domain.EmailThread{ID: "t"}, nil)
	assert.Nil(t, view.LastEmail)
	assert.Zero(t, view.UnreadCount)
	assert.False(t, view.HasStarred)
	assert.False(t, view.IsConversation)
	assert.Empty(t, view.Emails)
}

func TestRelevantForFolder(t *testing.T) {
	inboundOnly := ThreadView{HasInbound: true}
	outboundOnly := ThreadView{HasOutbound: true}

	tests := []struct {
		name   string
		view   ThreadView
		folder domain.EmailFolder
		want   bool
	}{
		{"inbound thread in inbox", inboundOnly, domain.FolderInbox, true},
		{"outbound thread in inbox", outboundOnly, domain.FolderInbox, false},
		{"outbound thread in sent", outboundOnly, domain.FolderSent, true},
		{"inbound thread in sent", inboundOnly, domain.FolderSent, false},
		{"default folder is inbox", inboundOnly, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RelevantForFolder(tt.view, tt.folder))
		})
	}
}

func TestThreadService_ListFiltersBeforePaging(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	svc := NewThreadService(store, store, nil, nopLogger)

	// 交替创建只有发件和含收件的会话
	var inboxThreads []string
	for i := 0; i < 6; i++ {
		thread := seedThread(store, nil, "Asunto")
		seedEmail(store, domain.Email{ThreadID: &thread.ID, Direction: domain.DirectionOutbound})
		if i%2 == 0 {
			seedEmail(store, domain.Email{ThreadID: &thread.ID, Direction: domain.DirectionInbound})
			inboxThreads = append(inboxThreads, thread.ID)
		}
	}

	first, err := svc.List(ctx, ThreadFilter{Folder: domain.FolderInbox, Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, first.Items, 2, "a full page of relevant threads")
	assert.Equal(t, int64(3), first.Total)
	assert.Equal(t, 2, first.TotalPages)

	second, err := svc.List(ctx, ThreadFilter{Folder: domain.FolderInbox, Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, second.Items, 1)

	seen := map[string]bool{}
	for _, v := range append(first.Items, second.Items...) {
		assert.True(t, v.HasInbound)
		seen[v.ID] = true
	}
	for _, id := range inboxThreads {
		assert.True(t, seen[id], "thread %s missing", id)
	}

	sent, err := svc.List(ctx, ThreadFilter{Folder: domain.FolderSent, Page: 1, Limit: 25})
	require.NoError(t, err)
	assert.Equal(t, int64(6), sent.Total)
}

func TestThreadService_OpenMarksInboundRead(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	svc := NewThreadService(store, store, nil, nopLogger)

	thread := seedThread(store, nil, "Consulta")
	seedEmail(store, domain.Email{ThreadID: &thread.ID, Direction: domain.DirectionInbound})
	seedEmail(store, domain.Email{ThreadID: &thread.ID, Direction: domain.DirectionOutbound, IsRead: true})
	seedEmail(store, domain.Email{ThreadID: &thread.ID, Direction: domain.DirectionInbound})

	view, err := svc.Open(ctx, thread.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 2, view.UnreadCount)

	view, err = svc.Open(ctx, thread.ID, true)
	require.NoError(t, err)
	assert.Zero(t, view.UnreadCount)

	// 再次打开是空操作
	view, err = svc.Open(ctx, thread.ID, true)
	require.NoError(t, err)
	assert.Zero(t, view.UnreadCount)

	view, err = svc.Open(ctx, thread.ID, false)
	require.NoError(t, err)
	assert.Zero(t, view.UnreadCount, "read state was persisted")

	_, err = svc.Open(ctx, "missing", false)
	assert.ErrorIs(t, err, ErrThreadNotFound)

	_, err = svc.Open(ctx, "", false)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestThreadService_Archive(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	svc := NewThreadService(store, store, nil, nopLogger)

	thread := seedThread(store, nil, "Consulta")
	for i := 0; i < 3; i++ {
		seedEmail(store, domain.Email{ThreadID: &thread.ID, Direction: domain.DirectionInbound})
	}

	result, err := svc.Archive(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Succeeded)
	assert.Empty(t, result.Failed)

	got, err := store.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.True(t, got.IsArchived)

	archived, total, err := store.ListEmails(ctx, storage.EmailQuery{Folder: ptr(domain.FolderArchived)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	for _, e := range archived {
		assert.True(t, e.IsArchived)
	}

	page, err := svc.List(ctx, ThreadFilter{Folder: domain.FolderInbox})
	require.NoError(t, err)
	assert.Empty(t, page.Items, "archived threads are not listed")
}

// flakyEmails fails updates of one email id.
type flakyEmails struct {
	storage.EmailRepository
	failID string
}

func (f flakyEmails) PatchEmail(ctx context.Context, id string, u storage.EmailUpdate) (*domain.Email, error) {
	if id == f.failID {
		return nil, errors.New("connection reset")
	}
	return f.EmailRepository.PatchEmail(ctx, id, u)
}

func TestThreadService_ArchivePartialFailure(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()

	thread := seedThread(store, nil, "Consulta")
	seedEmail(store, domain.Email{ThreadID: &thread.ID, Direction: domain.DirectionInbound})
	bad := seedEmail(store, domain.Email{ThreadID: &thread.ID, Direction: domain.DirectionInbound})
	seedEmail(store, domain.Email{ThreadID: &thread.ID, Direction: domain.DirectionOutbound})

	svc := NewThreadService(store, flakyEmails{EmailRepository: store, failID: bad.ID}, nil, nopLogger)

	result, err := svc.Archive(ctx, thread.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	require.NotNil(t, result)
	assert.Equal(t, 2, result.Succeeded, "all other updates completed")
	require.Len(t, result.Failed, 1)
	assert.Equal(t, bad.ID, result.Failed[0].EmailID)

	got, err := store.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.False(t, got.IsArchived)
}

// openedAfterList applies an opened event once the thread's emails were read.
type openedAfterList struct {
	*memory.Store
	resendID string
}

func (o openedAfterList) ListEmailsByThreads(ctx context.Context, ids []string) (map[string][]domain.Email, error) {
	out, err := o.Store.ListEmailsByThreads(ctx, ids)
	if err != nil {
		return nil, err
	}
	_, err = o.Store.ApplyDeliveryEvent(ctx, domain.DeliveryEvent{ResendID: o.resendID, Status: domain.StatusOpened, Opened: true})
	return out, err
}

func TestThreadService_ArchiveKeepsDeliveryEvents(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()

	thread := seedThread(store, nil, "Propuesta")
	sent := seedEmail(store, domain.Email{ThreadID: &thread.ID, Direction: domain.DirectionOutbound, ResendID: ptr("re_arch")})

	svc := NewThreadService(store, openedAfterList{Store: store, resendID: "re_arch"}, nil, nopLogger)
	_, err := svc.Archive(ctx, thread.ID)
	require.NoError(t, err)

	got, err := store.GetEmail(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FolderArchived, got.Folder)
	assert.True(t, got.IsArchived)
	assert.Equal(t, domain.StatusOpened, got.Status)
	assert.Equal(t, 1, got.OpenedCount)
}

func TestThreadService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("moves to trash", func(t *testing.T) {
		store := newMemoryStore()
		svc := NewThreadService(store, store, nil, nopLogger)
		thread := seedThread(store, nil, "Consulta")
		seedEmail(store, domain.Email{ThreadID: &thread.ID, Direction: domain.DirectionInbound})
		seedEmail(store, domain.Email{ThreadID: &thread.ID, Direction: domain.DirectionOutbound})

		result, err := svc.Delete(ctx, thread.ID, false)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Succeeded)

		_, total, err := store.ListEmails(ctx, storage.EmailQuery{Folder: ptr(domain.FolderTrash)})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)

		_, err = store.GetThread(ctx, thread.ID)
		assert.NoError(t, err, "thread kept while emails exist")
	})

	t.Run("permanent removes emails and thread", func(t *testing.T) {
		store := newMemoryStore()
		svc := NewThreadService(store, store, nil, nopLogger)
		thread := seedThread(store, nil, "Consulta")
		e := seedEmail(store, domain.Email{ThreadID: &thread.ID, Direction: domain.DirectionInbound})

		_, err := svc.Delete(ctx, thread.ID, true)
		require.NoError(t, err)

		_, err = store.GetEmail(ctx, e.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = store.GetThread(ctx, thread.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("unknown thread", func(t *testing.T) {
		store := newMemoryStore()
		svc := NewThreadService(store, store, nil, nopLogger)
		_, err := svc.Delete(ctx, "nope", false)
		assert.ErrorIs(t, err, ErrThreadNotFound)
	})
}
