package domain

import "time"

// Provider webhook event types.
const (
	EventEmailSent       = "email.sent"
	EventEmailDelivered  = "email.delivered"
	EventEmailBounced    = "email.bounced"
	EventEmailComplained = "email.complained"
	EventEmailOpened     = "email.opened"
	EventEmailClicked    = "email.clicked"
	EventEmailReceived   = "email.received"
)

// WebhookLog Webhook 回调审计记录
type WebhookLog struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ResendID  *string   `json:"resend_id" gorm:"type:varchar(100);index"`
	EventType string    `json:"event_type" gorm:"type:varchar(50);index;not null"`
	Payload   string    `json:"payload" gorm:"type:text"`
	Processed bool      `json:"processed" gorm:"default:false"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName keeps the table name used by the existing database.
func (WebhookLog) TableName() string {
	return "email_webhook_logs"
}
