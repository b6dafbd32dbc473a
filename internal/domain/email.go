package domain

import "time"

// EmailDirection tells whether an email was received or sent by the back-office.
type EmailDirection string

const (
	DirectionInbound  EmailDirection = "inbound"
	DirectionOutbound EmailDirection = "outbound"
)

// EmailStatus is the delivery state of an email.
type EmailStatus string

const (
	StatusDraft      EmailStatus = "draft"
	StatusQueued     EmailStatus = "queued"
	StatusSent       EmailStatus = "sent"
	StatusDelivered  EmailStatus = "delivered"
	StatusOpened     EmailStatus = "opened"
	StatusClicked    EmailStatus = "clicked"
	StatusBounced    EmailStatus = "bounced"
	StatusComplained EmailStatus = "complained"
	StatusFailed     EmailStatus = "failed"
)

// statusRank orders the progressive delivery states. Statuses outside the
// progression have rank zero.
var statusRank = map[EmailStatus]int{
	StatusDraft:     1,
	StatusQueued:    2,
	StatusSent:      3,
	StatusDelivered: 4,
	StatusOpened:    5,
	StatusClicked:   6,
}

// Valid reports whether s is a known status.
func (s EmailStatus) Valid() bool {
	switch s {
	case StatusBounced, StatusComplained, StatusFailed:
		return true
	}
	return statusRank[s] > 0
}

// Terminal reports whether no later event may change the status.
func (s EmailStatus) Terminal() bool {
	return s == StatusBounced || s == StatusFailed
}

// Advance returns the status an email should hold after a delivery event
// reporting next. Terminal statuses stick and progressive statuses never move
// backwards; complaints always win over a progressive state.
func (s EmailStatus) Advance(next EmailStatus) EmailStatus {
	if s.Terminal() {
		return s
	}
	if next.Terminal() || next == StatusComplained {
		return next
	}
	if s == StatusComplained {
		return s
	}
	if statusRank[next] > statusRank[s] {
		return next
	}
	return s
}

// EmailFolder is the coarse mailbox bucket shown in the admin UI.
type EmailFolder string

const (
	FolderInbox    EmailFolder = "inbox"
	FolderSent     EmailFolder = "sent"
	FolderDrafts   EmailFolder = "drafts"
	FolderArchived EmailFolder = "archived"
	FolderTrash    EmailFolder = "trash"
)

// Valid reports whether f is a known folder.
func (f EmailFolder) Valid() bool {
	switch f {
	case FolderInbox, FolderSent, FolderDrafts, FolderArchived, FolderTrash:
		return true
	}
	return false
}

// Movable reports whether an admin may move an email into f.
func (f EmailFolder) Movable() bool {
	return f.Valid() && f != FolderInbox
}

// Email is one stored message, inbound or outbound.
type Email struct {
	ID             string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	LeadID         *int64         `json:"lead_id" gorm:"index"`
	AdminUserID    *string        `json:"admin_user_id" gorm:"type:varchar(36)"`
	ThreadID       *string        `json:"thread_id" gorm:"type:varchar(36);index"`
	EmailAccountID *string        `json:"email_account_id" gorm:"type:varchar(36);index"`
	ResendID       *string        `json:"resend_id" gorm:"type:varchar(100);uniqueIndex"`
	Direction      EmailDirection `json:"direction" gorm:"type:varchar(10);not null;index"`
	Subject        string         `json:"subject" gorm:"type:varchar(500)"`
	BodyHTML       string         `json:"body_html" gorm:"type:text"`
	BodyText       *string        `json:"body_text" gorm:"type:text"`
	FromEmail      string         `json:"from_email" gorm:"type:varchar(255);not null"`
	FromName       *string        `json:"from_name" gorm:"type:varchar(255)"`
	ToEmail        string         `json:"to_email" gorm:"type:varchar(255);not null;index"`
	ToName         *string        `json:"to_name" gorm:"type:varchar(255)"`
	ReplyTo        *string        `json:"reply_to" gorm:"type:varchar(255)"`
	Status         EmailStatus    `json:"status" gorm:"type:varchar(20);not null;index"`
	IsArchived     bool           `json:"is_archived" gorm:"default:false"`
	IsStarred      bool           `json:"is_starred" gorm:"default:false;index"`
	IsRead         bool           `json:"is_read" gorm:"default:false;index"`
	Folder         EmailFolder    `json:"folder" gorm:"type:varchar(20);not null;index"`
	OpenedAt       *time.Time     `json:"opened_at"`
	OpenedCount    int            `json:"opened_count" gorm:"default:0"`
	ClickedAt      *time.Time     `json:"clicked_at"`
	ClickedCount   int            `json:"clicked_count" gorm:"default:0"`
	ScheduledAt    *time.Time     `json:"scheduled_at" gorm:"index"`
	SentAt         *time.Time     `json:"sent_at"`
	CreatedAt      time.Time      `json:"created_at" gorm:"index"`
	UpdatedAt      time.Time      `json:"updated_at"`
	RawPayload     string         `json:"-" gorm:"type:text"`

	Lead *LeadSummary `json:"lead,omitempty" gorm:"-"`
}

// EmailPatch carries the admin-editable fields of an email. Nil fields are
// left untouched.
type EmailPatch struct {
	Subject    *string      `json:"subject,omitempty"`
	BodyHTML   *string      `json:"body_html,omitempty"`
	BodyText   *string      `json:"body_text,omitempty"`
	IsArchived *bool        `json:"is_archived,omitempty"`
	IsStarred  *bool        `json:"is_starred,omitempty"`
	Folder     *EmailFolder `json:"folder,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p EmailPatch) Empty() bool {
	return p.Subject == nil && p.BodyHTML == nil && p.BodyText == nil &&
		p.IsArchived == nil && p.IsStarred == nil && p.Folder == nil
}

// TouchesContent reports whether the patch edits subject or body.
func (p EmailPatch) TouchesContent() bool {
	return p.Subject != nil || p.BodyHTML != nil || p.BodyText != nil
}

// DeliveryEvent is a provider-reported change to an outbound email.
type DeliveryEvent struct {
	ResendID   string
	Status     EmailStatus
	OccurredAt time.Time
	Opened     bool // increments opened_count, sets opened_at once
	Clicked    bool // increments clicked_count, sets clicked_at once
}

// FolderCounts holds the sidebar badge numbers.
type FolderCounts struct {
	Inbox    int64 `json:"inbox"`
	Sent     int64 `json:"sent"`
	Drafts   int64 `json:"drafts"`
	Archived int64 `json:"archived"`
	Trash    int64 `json:"trash"`
	Starred  int64 `json:"starred"`
	Unread   int64 `json:"unread"`
}
