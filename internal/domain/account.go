package domain

import "time"

// AccountType distinguishes personal mailboxes from shared ones.
type AccountType string

const (
	AccountPersonal AccountType = "personal"
	AccountShared   AccountType = "shared"
)

// EmailAccount 表示业务使用的收件邮箱（kevin@、tomas@、info@）
type EmailAccount struct {
	ID        string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email     string      `json:"email" gorm:"uniqueIndex;type:varchar(255);not null"`
	Name      string      `json:"name" gorm:"type:varchar(255)"`
	Type      AccountType `json:"type" gorm:"type:varchar(20);default:'shared'"`
	IsDefault bool        `json:"is_default" gorm:"default:false"`
	IsActive  bool        `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// EmailAccountUser grants an admin user access to an account.
type EmailAccountUser struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	EmailAccountID string    `json:"email_account_id" gorm:"type:varchar(36);index;not null"`
	AdminUserID    string    `json:"admin_user_id" gorm:"type:varchar(36);index;not null"`
	CanSend        bool      `json:"can_send" gorm:"default:true"`
	CanReceive     bool      `json:"can_receive" gorm:"default:true"`
	IsOwner        bool      `json:"is_owner" gorm:"default:false"`
	CreatedAt      time.Time `json:"created_at"`
}

// AccountAccess is an account as seen by one admin user.
type AccountAccess struct {
	EmailAccount
	CanSend    bool `json:"can_send"`
	CanReceive bool `json:"can_receive"`
	IsOwner    bool `json:"is_owner"`
}
