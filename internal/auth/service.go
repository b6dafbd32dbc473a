package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"juninpagos/backend/internal/auth/jwt"
	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/storage"
)

var (
	// ErrInvalidCredentials 凭证无效
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = errors.New("user not found")
	// ErrUserInactive 用户已被禁用
	ErrUserInactive = errors.New("user is inactive")
)

// LoginResult is a successful login.
type LoginResult struct {
	User        *domain.AdminUser `json:"user"`
	AccessToken string            `json:"accessToken"`
	ExpiresAt   time.Time         `json:"expiresAt"`
}

// Service 后台认证服务
type Service struct {
	users  storage.AdminUserRepository
	tokens *jwt.Manager
	logger *zap.Logger
	now    func() time.Time
}

// NewService 创建认证服务
func NewService(users storage.AdminUserRepository, tokens *jwt.Manager, logger *zap.Logger) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}
}

// Tokens exposes the token manager used by the auth middleware.
func (s *Service) Tokens() *jwt.Manager {
	return s.tokens
}

// Login 校验邮箱和密码并签发访问令牌
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = domain.NormalizeAddress(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetAdminUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// 防止时序攻击探测账号
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !CheckPassword(password, user.PasswordHash) {
		s.logger.Warn("admin login failed", zap.String("email", email))
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	token, expiresAt, err := s.tokens.GenerateAccessToken(user.ID, user.Email, string(user.Role))
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		user.LastLoginAt = &now
	}

	s.logger.Info("admin logged in", zap.String("user_id", user.ID), zap.String("email", user.Email))
	return &LoginResult{User: user, AccessToken: token, ExpiresAt: expiresAt}, nil
}

// Check returns the active user behind userID.
func (s *Service) Check(ctx context.Context, userID string) (*domain.AdminUser, error) {
	user, err := s.users.GetAdminUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return user, nil
}

// Logout revokes token when a revocation store is configured. Invalid or
// expired tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	claims, err := s.tokens.ValidateToken(ctx, token)
	if err != nil {
		return nil
	}
	return s.tokens.Revoke(ctx, claims)
}

// CreateUser 创建后台用户（create-admin 命令使用）
func (s *Service) CreateUser(ctx context.Context, email, name, password string, role domain.AdminRole) (*domain.AdminUser, error) {
	email = domain.NormalizeAddress(email)
	if err := domain.ValidateEmailAddress(email); err != nil {
		return nil, err
	}
	if err := domain.ValidatePasswordError(password); err != nil {
		return nil, err
	}
	if role == "" {
		role = domain.RoleAdmin
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user := &domain.AdminUser{
		Email:        email,
		Name:         strings.TrimSpace(name),
		Role:         role,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := s.users.CreateAdminUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// dummyHash is compared against when the account does not exist.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password"), bcrypt.MinCost)

// HashPassword 哈希密码
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword 检查密码是否匹配
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
