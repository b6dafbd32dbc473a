package service

import (
	"errors"
	"fmt"
	"strings"

	"juninpagos/backend/internal/storage"
)

var (
	// ErrValidation 输入校验失败，具体原因通过 %w 包装
	ErrValidation = errors.New("validation failed")

	ErrLeadNotFound     = errors.New("lead not found")
	ErrEmailNotFound    = errors.New("email not found")
	ErrThreadNotFound   = errors.New("thread not found")
	ErrTemplateNotFound = errors.New("template not found")
	ErrTemplateExists   = errors.New("template name already exists")
	ErrProviderFailed   = errors.New("email provider failed")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ValidationMessage returns the human readable part of a validation error.
func ValidationMessage(err error) string {
	return strings.TrimPrefix(err.Error(), ErrValidation.Error()+": ")
}

// notFound maps storage.ErrNotFound onto the service sentinel.
func notFound(err, sentinel error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return sentinel
	}
	return err
}
