package domain

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrInvalidPhone     = errors.New("invalid phone format")
	ErrPasswordTooShort = errors.New("password too short (min 8 chars)")
	ErrPasswordTooLong  = errors.New("password too long (max 72 bytes)")
)

// 验证常量
const (
	MaxEmailLength = 254 // RFC 5322

	MinPhoneLength = 8
	MaxPhoneLength = 20

	MinPasswordLength = 8
	MaxPasswordLength = 72 // bcrypt limit
)

var (
	emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

	// digits, spaces, dashes, plus and parentheses
	phoneRegex = regexp.MustCompile(`^[\d\s\-\+\(\)]+$`)

	// "Display Name <addr@host>"
	namedAddressRegex = regexp.MustCompile(`^(.+?)\s*<([^<>]+)>$`)
)

// ValidateEmailAddress checks the loose address shape accepted by the
// compose form.
func ValidateEmailAddress(email string) error {
	email = strings.TrimSpace(email)
	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}
	if !emailRegex.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

// ValidatePhone checks the contact form phone field.
func ValidatePhone(phone string) error {
	n := utf8.RuneCountInString(phone)
	if n < MinPhoneLength || n > MaxPhoneLength {
		return ErrInvalidPhone
	}
	if !phoneRegex.MatchString(phone) {
		return ErrInvalidPhone
	}
	return nil
}

// ValidatePasswordError 验证密码长度并返回错误
func ValidatePasswordError(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// ParseAddress splits a From header value into display name and address.
// It accepts "Name <addr@host>" and a bare "addr@host". The name is nil when
// absent.
func ParseAddress(value string) (*string, string) {
	value = strings.TrimSpace(value)
	if m := namedAddressRegex.FindStringSubmatch(value); m != nil {
		name := strings.Trim(strings.TrimSpace(m[1]), `"'`)
		addr := strings.TrimSpace(m[2])
		if name == "" {
			return nil, addr
		}
		return &name, addr
	}
	return nil, strings.Trim(value, "<>")
}

// NormalizeAddress lowercases and trims an email address for lookups.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
