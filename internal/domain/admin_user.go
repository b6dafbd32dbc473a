package domain

import "time"

// AdminRole 后台用户角色
type AdminRole string

const (
	RoleAdmin AdminRole = "admin"
	RoleAgent AdminRole = "agent"
)

// AdminUser 表示后台管理用户
type AdminUser struct {
	ID           string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email        string     `json:"email" gorm:"uniqueIndex;type:varchar(255);not null"`
	Name         string     `json:"name" gorm:"type:varchar(100)"`
	Role         AdminRole  `json:"role" gorm:"type:varchar(20);default:'admin'"`
	PasswordHash string     `json:"-" gorm:"type:varchar(255)"` // 不返回给前端
	IsActive     bool       `json:"is_active" gorm:"default:true"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
