package xerrors

import (
	"errors"
	"fmt"
)

// Common reusable application errors
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized access")
	ErrInvalidInput   = errors.New("invalid input")
	ErrConflict       = errors.New("conflict")
	ErrConfiguration  = errors.New("configuration error")
	ErrRateLimited    = errors.New("too many requests")
	ErrDuplicateEntry = errors.New("duplicate entry")
)

// Membership errors. Conflicts match ErrConflict under errors.Is.
var (
	ErrActiveSubscriptionExists = conflict("active subscription exists")
	ErrAlreadyOnTier            = conflict("already on this tier")
	ErrLockTimeout              = conflict("timed out waiting for user lock")
	ErrStaleVersion             = conflict("subscription was modified concurrently")
	ErrNoActiveSubscription     = fmt.Errorf("no active subscription found for user: %w", ErrNotFound)
	ErrNoActiveTiers            = fmt.Errorf("no active tiers available: %w", ErrConfiguration)
)

func conflict(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrConflict)
}

// Wrap adds context to an error (similar to fmt.Errorf("%w")).
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is allows checking whether an error is a specific sentinel error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Retryable reports whether the caller may retry the operation unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrStaleVersion)
}

// MessageOrDefault returns err.Error() or a fallback message if err is nil.
func MessageOrDefault(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
