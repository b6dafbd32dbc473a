package jwt

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBlacklist struct {
	mu  sync.Mutex
	ids map[string]time.Duration
}

func (b *memoryBlacklist) AddToBlacklist(_ context.Context, jti string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ids == nil {
		b.ids = map[string]time.Duration{}
	}
	b.ids[jti] = ttl
	return nil
}

func (b *memoryBlacklist) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.ids[jti]
	return ok, nil
}

var testSecret = strings.Repeat("s", 32)

func TestManager_RoundTrip(t *testing.T) {
	m := NewManager(testSecret, "juninpagos", 3*time.Hour, nil)

	token, expiresAt, err := m.GenerateAccessToken("user-1", "admin@juninpagos.com", "admin")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(3*time.Hour), expiresAt, time.Minute)

	claims, err := m.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "admin@juninpagos.com", claims.Email)
	assert.Equal(t, "admin", claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestManager_Rejects(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testSecret, "juninpagos", time.Hour, nil)
	token, _, err := m.GenerateAccessToken("user-1", "a@b.com", "admin")
	require.NoError(t, err)

	t.Run("garbage", func(t *testing.T) {
		_, err := m.ValidateToken(ctx, "not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other secret", func(t *testing.T) {
		other := NewManager(strings.Repeat("x", 32), "juninpagos", time.Hour, nil)
		_, err := other.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other issuer", func(t *testing.T) {
		other := NewManager(testSecret, "someone-else", time.Hour, nil)
		_, err := other.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		late := NewManager(testSecret, "juninpagos", time.Hour, nil)
		late.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := late.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})
}

func TestManager_Revoke(t *testing.T) {
	ctx := context.Background()
	bl := &memoryBlacklist{}
	m := NewManager(testSecret, "juninpagos", time.Hour, bl)

	token, _, err := m.GenerateAccessToken("user-1", "a@b.com", "admin")
	require.NoError(t, err)
	claims, err := m.ValidateToken(ctx, token)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, claims))
	assert.InDelta(t, time.Hour.Seconds(), bl.ids[claims.ID].Seconds(), 60)

	_, err = m.ValidateToken(ctx, token)
	assert.ErrorIs(t, err, ErrRevokedToken)
}
