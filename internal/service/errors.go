package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation = errors.New("validation failed")

	// ErrInvalidCredentials covers unknown username and wrong password
	// alike, so responses cannot be used to enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrCaptchaRequired is returned when the failure count demands a
	// challenge token and none was supplied.
	ErrCaptchaRequired = errors.New("security verification required")
	ErrCaptchaInvalid  = errors.New("security verification invalid")

	// ErrTwoFactorInvalid covers a wrong TOTP code and a wrong backup code.
	ErrTwoFactorInvalid = errors.New("invalid two-factor code")

	// ErrSessionExpired means the pending two-factor session is unknown,
	// already consumed, or past its deadline.
	ErrSessionExpired = errors.New("two-factor session expired")

	// ErrTokenInvalid covers a missing, unknown, revoked or expired
	// refresh token.
	ErrTokenInvalid = errors.New("invalid refresh token")
)

// LockedError rejects an attempt from a locked-out IP and carries the
// remaining lock time for the retry hint.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("too many failed attempts, try again in %d minutes", e.RetryMinutes())
}

func (e *LockedError) RetryMinutes() int {
	m := int(e.RetryAfter.Minutes())
	if e.RetryAfter > time.Duration(m)*time.Minute {
		m++
	}
	if m < 1 {
		m = 1
	}
	return m
}
