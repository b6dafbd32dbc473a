package domain

import "time"

// TemplateVariable documents one {{placeholder}} a template expects.
type TemplateVariable struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// EmailTemplate is a reusable message body with {{variable}} placeholders.
type EmailTemplate struct {
	ID         string             `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name       string             `json:"name" gorm:"uniqueIndex;type:varchar(100);not null"`
	Subject    string             `json:"subject" gorm:"type:varchar(500);not null"`
	BodyHTML   string             `json:"body_html" gorm:"type:text;not null"`
	BodyText   *string            `json:"body_text" gorm:"type:text"`
	Variables  []TemplateVariable `json:"variables" gorm:"serializer:json;type:json"`
	Category   string             `json:"category" gorm:"type:varchar(50);default:'general';index"`
	IsActive   bool               `json:"is_active" gorm:"default:true"`
	UsageCount int                `json:"usage_count" gorm:"default:0"`
	CreatedBy  *string            `json:"created_by" gorm:"type:varchar(36)"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// TemplatePatch carries the editable template fields.
type TemplatePatch struct {
	Name      *string             `json:"name,omitempty"`
	Subject   *string             `json:"subject,omitempty"`
	BodyHTML  *string             `json:"body_html,omitempty"`
	BodyText  *string             `json:"body_text,omitempty"`
	Variables *[]TemplateVariable `json:"variables,omitempty"`
	Category  *string             `json:"category,omitempty"`
	IsActive  *bool               `json:"is_active,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TemplatePatch) Empty() bool {
	return p.Name == nil && p.Subject == nil && p.BodyHTML == nil && p.BodyText == nil &&
		p.Variables == nil && p.Category == nil && p.IsActive == nil
}

// Apply copies the set fields onto t.
func (p TemplatePatch) Apply(t *EmailTemplate) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Subject != nil {
		t.Subject = *p.Subject
	}
	if p.BodyHTML != nil {
		t.BodyHTML = *p.BodyHTML
	}
	if p.BodyText != nil {
		t.BodyText = p.BodyText
	}
	if p.Variables != nil {
		t.Variables = *p.Variables
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.IsActive != nil {
		t.IsActive = *p.IsActive
	}
}
