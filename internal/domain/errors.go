package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown email, wrong password and bad MFA
	// codes alike. Intentionally undifferentiated to callers.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrAccountInactive is logged server-side; the client still sees
	// ErrInvalidCredentials on the login path.
	ErrAccountInactive = errors.New("account is inactive")
	// ErrInvalidMFACode is returned when a supplied TOTP or backup code fails.
	ErrInvalidMFACode = errors.New("invalid mfa code")
	// ErrMFANotEnabled is returned when an MFA operation targets a user
	// without an enrolled factor.
	ErrMFANotEnabled = errors.New("mfa is not enabled")
	// ErrMFAAlreadyEnabled guards double enrollment.
	ErrMFAAlreadyEnabled = errors.New("mfa is already enabled")
	// ErrInvalidToken is the uniform failure for expired, malformed or
	// wrong-audience signed tokens.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrSessionNotFound is returned when no session matches the credential.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when a session exists but its absolute
	// expiry has passed; the record is deleted as a side effect.
	ErrSessionExpired = errors.New("session expired")
	// ErrResetTokenInvalid is returned when a reset token does not exist.
	ErrResetTokenInvalid = errors.New("invalid password reset token")
	// ErrResetTokenUsed is returned on any redemption after the first.
	ErrResetTokenUsed = errors.New("password reset token already used")
	// ErrResetTokenExpired is returned for tokens past their validity window.
	ErrResetTokenExpired = errors.New("password reset token expired")
	// ErrRateLimited is matched via errors.Is against RateLimitError.
	ErrRateLimited = errors.New("too many attempts")
	// ErrDuplicateEmail is returned when registration hits an existing email.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrUserNotFound is returned by directory lookups for absent users.
	ErrUserNotFound = errors.New("user not found")
	// ErrNotificationFailed is a hard failure only where the caller must know
	// delivery failed (reset initiation after the token was committed).
	ErrNotificationFailed = errors.New("notification dispatch failed")
)

// RateLimitError carries the retry-after hint derived from the window's
// reset time. errors.Is(err, ErrRateLimited) matches it.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
