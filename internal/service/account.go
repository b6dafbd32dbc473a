package service

import (
	"context"
	"errors"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/storage"
)

// AccountService lists the mailboxes an admin user may use.
type AccountService struct {
	store storage.AccountRepository
}

// NewAccountService 创建邮箱账户服务
func NewAccountService(store storage.AccountRepository) *AccountService {
	return &AccountService{store: store}
}

// ListForUser returns the accounts granted to adminUserID with the
// permissions of that grant.
func (s *AccountService) ListForUser(ctx context.Context, adminUserID string) ([]domain.AccountAccess, error) {
	accounts, err := s.store.ListAccountsForUser(ctx, adminUserID)
	if err != nil {
		return nil, err
	}
	if accounts == nil {
		accounts = []domain.AccountAccess{}
	}
	return accounts, nil
}

// EnsureAccount 返回 email 对应的邮箱账户，不存在时创建
func (s *AccountService) EnsureAccount(ctx context.Context, email, name string, accountType domain.AccountType) (*domain.EmailAccount, error) {
	email = domain.NormalizeAddress(email)
	if err := domain.ValidateEmailAddress(email); err != nil {
		return nil, err
	}

	existing, err := s.store.GetAccountByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if accountType == "" {
		accountType = domain.AccountShared
	}
	account := &domain.EmailAccount{
		Email:    email,
		Name:     name,
		Type:     accountType,
		IsActive: true,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// Grant gives adminUserID send and receive access to accountID.
// Granting twice updates the existing grant.
func (s *AccountService) Grant(ctx context.Context, accountID, adminUserID string, owner bool) error {
	return s.store.GrantAccount(ctx, &domain.EmailAccountUser{
		EmailAccountID: accountID,
		AdminUserID:    adminUserID,
		CanSend:        true,
		CanReceive:     true,
		IsOwner:        owner,
	})
}
