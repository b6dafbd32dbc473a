package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"juninpagos/backend/internal/auth/jwt"
	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/storage/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	tokens := jwt.NewManager(strings.Repeat("a", 32), "test", 3*time.Hour, nil)
	return NewService(store, tokens, zap.NewNop()), store
}

func TestService_CreateUserAndLogin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	user, err := svc.CreateUser(ctx, " Kevin@JuninPagos.com ", "Kevin", "Password123!", "")
	require.NoError(t, err)
	assert.Equal(t, "kevin@juninpagos.com", user.Email)
	assert.Equal(t, domain.RoleAdmin, user.Role)
	assert.NotEqual(t, "Password123!", user.PasswordHash)

	res, err := svc.Login(ctx, "KEVIN@juninpagos.com", "Password123!")
	require.NoError(t, err)
	assert.Equal(t, user.ID, res.User.ID)
	assert.NotEmpty(t, res.AccessToken)
	require.NotNil(t, res.User.LastLoginAt)

	claims, err := svc.Tokens().ValidateToken(ctx, res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "admin", claims.Role)

	checked, err := svc.Check(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, checked.Email)
}

func TestService_LoginFailures(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	_, err := svc.CreateUser(ctx, "tomas@juninpagos.com", "Tomás", "Password123!", domain.RoleAgent)
	require.NoError(t, err)

	hash, err := HashPassword("Password123!")
	require.NoError(t, err)
	require.NoError(t, store.CreateAdminUser(ctx, &domain.AdminUser{
		Email:        "baja@juninpagos.com",
		PasswordHash: hash,
		IsActive:     false,
	}))

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{"wrong password", "tomas@juninpagos.com", "nope-nope", ErrInvalidCredentials},
		{"unknown user", "nadie@juninpagos.com", "Password123!", ErrInvalidCredentials},
		{"empty", "", "", ErrInvalidCredentials},
		{"inactive", "baja@juninpagos.com", "Password123!", ErrUserInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(ctx, tt.email, tt.password)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_CreateUserValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.CreateUser(ctx, "no-es-email", "x", "Password123!", "")
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)

	_, err = svc.CreateUser(ctx, "a@b.com", "x", "short", "")
	assert.ErrorIs(t, err, domain.ErrPasswordTooShort)
}

func TestService_CheckUnknown(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Check(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestService_LogoutWithoutBlacklist(t *testing.T) {
	svc, _ := newTestService(t)
	assert.NoError(t, svc.Logout(context.Background(), "garbage"))
	assert.NoError(t, svc.Logout(context.Background(), ""))
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("Password123!")
	require.NoError(t, err)
	assert.True(t, CheckPassword("Password123!", hash))
	assert.False(t, CheckPassword("Password124!", hash))
}
