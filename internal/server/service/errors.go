package service

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the service layer. Every error returned by
// ShareService and StatsService wraps exactly one of them.
var (
	ErrValidation       = errors.New("invalid request")
	ErrNotFound         = errors.New("share not found")
	ErrExpired          = errors.New("share has expired")
	ErrPasswordRequired = errors.New("password required")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrDecryption       = errors.New("failed to decrypt file")
	ErrStorage          = errors.New("storage failure")
	ErrTransient        = errors.New("temporary failure, retry later")
)

// ErrFileTooLarge is the validation error for oversize uploads.
var ErrFileTooLarge = fmt.Errorf("%w: file exceeds maximum allowed size", ErrValidation)

// Kind returns a stable name for the sentinel wrapped by err.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrPasswordRequired):
		return "password_required"
	case errors.Is(err, ErrInvalidPassword):
		return "invalid_password"
	case errors.Is(err, ErrDecryption):
		return "decryption"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "internal"
	}
}

// backendErr classifies a failure from a blob or metadata store.
// Timeouts and cancellations are transient, everything else is a storage error.
func backendErr(msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %w", msg, ErrTransient, err)
	}
	return fmt.Errorf("%s: %w: %w", msg, ErrStorage, err)
}
