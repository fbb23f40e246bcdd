package dispatch

import (
	"context"
	"errors"
	"net/textproto"

	"github.com/cenkalti/backoff/v4"

	appErr "github.com/xxxsen/evote/internal/pkg/errors"
)

// Permanent marks err as a rejection that a retry cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err must not be retried: explicit permanent
// errors, validation failures and SMTP 5xx replies. Everything else is transient.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var pe *backoff.PermanentError
	if errors.As(err, &pe) {
		return true
	}
	if errors.Is(err, appErr.ErrInvalid) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var smtpErr *textproto.Error
	if errors.As(err, &smtpErr) {
		return smtpErr.Code >= 500
	}
	return false
}
