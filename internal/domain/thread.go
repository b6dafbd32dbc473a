package domain

import "time"

// EmailThread groups emails inferred to belong to one conversation.
type EmailThread struct {
	ID          string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	LeadID      *int64     `json:"lead_id" gorm:"index"`
	Subject     string     `json:"subject" gorm:"type:varchar(500);index"`
	LastEmailAt *time.Time `json:"last_email_at" gorm:"index"`
	EmailCount  int        `json:"email_count" gorm:"default:0"`
	IsArchived  bool       `json:"is_archived" gorm:"default:false;index"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Lead *LeadSummary `json:"lead,omitempty" gorm:"-"`
}

// TableName keeps the table name used by the existing database.
func (EmailThread) TableName() string {
	return "email_threads"
}
