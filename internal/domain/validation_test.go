package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmailAddress(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected error
	}{
		{"Valid email", "test@example.com", nil},
		{"Valid email with subdomain", "user@mail.example.com", nil},
		{"Valid email with plus", "user+tag@example.com", nil},
		{"Surrounding spaces are trimmed", "  ana@x.com ", nil},
		{"Invalid email - no @", "testexample.com", ErrInvalidEmail},
		{"Invalid email - no domain dot", "test@example", ErrInvalidEmail},
		{"Invalid email - no local part", "@example.com", ErrInvalidEmail},
		{"Invalid email - multiple @", "test@@example.com", ErrInvalidEmail},
		{"Invalid email - empty", "", ErrInvalidEmail},
		{"Invalid email - inner space", "test @example.com", ErrInvalidEmail},
		{"Invalid email - too long", strings.Repeat("a", 250) + "@x.com", ErrEmailTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateEmailAddress(tt.email))
		})
	}
}

func TestValidatePhone(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		valid bool
	}{
		{"Local number", "236 4123456", true},
		{"International with parentheses", "+54 (236) 412-3456", true},
		{"Minimum length", "12345678", true},
		{"Too short", "1234567", false},
		{"Too long", "123456789012345678901", false},
		{"Letters", "236-CALL-NOW", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePhone(tt.phone)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPhone)
			}
		})
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantName *string
		wantAddr string
	}{
		{"Display name", "Ana <ana@x.com>", strPtr("Ana"), "ana@x.com"},
		{"Quoted display name", `"Ana Pérez" <ana@x.com>`, strPtr("Ana Pérez"), "ana@x.com"},
		{"No space before bracket", "Ana<ana@x.com>", strPtr("Ana"), "ana@x.com"},
		{"Bare address", "ana@x.com", nil, "ana@x.com"},
		{"Bare address with spaces", "  ana@x.com  ", nil, "ana@x.com"},
		{"Bracketed address only", "<ana@x.com>", nil, "ana@x.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, addr := ParseAddress(tt.input)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantAddr, addr)
		})
	}
}

func TestEmailStatusAdvance(t *testing.T) {
	tests := []struct {
		name    string
		current EmailStatus
		next    EmailStatus
		want    EmailStatus
	}{
		{"Sent to delivered", StatusSent, StatusDelivered, StatusDelivered},
		{"Delivered to opened", StatusDelivered, StatusOpened, StatusOpened},
		{"Late delivered after opened keeps opened", StatusOpened, StatusDelivered, StatusOpened},
		{"Clicked after opened", StatusOpened, StatusClicked, StatusClicked},
		{"Bounce is terminal", StatusBounced, StatusDelivered, StatusBounced},
		{"Failed is terminal", StatusFailed, StatusSent, StatusFailed},
		{"Delivered then bounced", StatusDelivered, StatusBounced, StatusBounced},
		{"Complaint overrides opened", StatusOpened, StatusComplained, StatusComplained},
		{"Complaint sticks over clicks", StatusComplained, StatusClicked, StatusComplained},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.current.Advance(tt.next))
		})
	}
}

func TestEmailPatch(t *testing.T) {
	subject := "Nuevo asunto"
	starred := true
	trash := FolderTrash

	assert.True(t, EmailPatch{}.Empty())

	patch := EmailPatch{Subject: &subject, IsStarred: &starred, Folder: &trash}
	assert.False(t, patch.Empty())
	assert.True(t, patch.TouchesContent())

	assert.False(t, EmailPatch{IsStarred: &starred}.TouchesContent())
	assert.False(t, FolderInbox.Movable())
	assert.True(t, FolderArchived.Movable())
}

func TestLeadStatusValid(t *testing.T) {
	assert.True(t, LeadContactado.Valid())
	assert.False(t, LeadStatus("cerrado").Valid())
}

func strPtr(s string) *string { return &s }
