package usecase

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cobaltlabs/aegis/internal/domain"
	"github.com/cobaltlabs/aegis/pkg/security"
)

// ResetInitiatedMessage is returned by InitiatePasswordReset regardless of
// whether the email maps to an account. Byte-identical responses for
// unknown, inactive and active users leave no existence oracle.
const ResetInitiatedMessage = "If that email address is registered, a password reset link has been sent."

// InitiatePasswordReset issues a single-use, time-boxed reset token and
// dispatches it. The flow shares the login path's per-source attempt budget:
// each initiation costs a hash-and-dispatch round trip, so it must not be an
// unthrottled amplifier. The only hard failure after admission is
// notification dispatch once the token was committed: the token exists but
// the user cannot learn it, and the operator needs to know.
func (u *AuthUsecase) InitiatePasswordReset(ctx context.Context, email, ip string) (string, error) {
	if res, err := u.limiter.Allow(ctx, ip); err != nil {
		return "", err
	} else if !res.Allowed {
		return "", &domain.RateLimitError{RetryAfter: res.RetryAfter}
	}

	user, err := u.users.GetByEmail(ctx, strings.ToLower(email))
	if err != nil || !user.IsActive {
		return ResetInitiatedMessage, nil
	}

	token, err := security.GenerateOpaqueToken(32)
	if err != nil {
		return "", err
	}
	now := time.Now()
	reset := &domain.ResetToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(u.cfg.ResetTokenTTL),
	}
	if err := u.resets.Create(ctx, reset); err != nil {
		return "", err
	}

	if err := u.mailer.SendPasswordReset(ctx, user.Email, token); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrNotificationFailed, err)
	}

	_ = u.users.LogSecurityEvent(ctx, user.ID, domain.EventPasswordResetStart, ip, nil)
	return ResetInitiatedMessage, nil
}

// CompletePasswordReset redeems a token exactly once, installs the new
// password hash and revokes every session for the user. Failures are
// distinct: not found, already used, expired.
func (u *AuthUsecase) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	reset, err := u.resets.Consume(ctx, token)
	if err != nil {
		return err
	}

	hash, err := security.HashPassword(newPassword, u.cfg.BcryptCost)
	if err != nil {
		return err
	}
	if err := u.users.UpdatePassword(ctx, reset.UserID, hash); err != nil {
		return err
	}
	if _, err := u.sessions.DeleteAllForUser(ctx, reset.UserID); err != nil {
		return err
	}

	if user, err := u.users.GetByID(ctx, reset.UserID); err == nil {
		if err := u.mailer.SendPasswordChanged(ctx, user.Email); err != nil {
			log.Printf("reset-completed mail for %s failed: %v", reset.UserID, err)
		}
	}
	if err := u.resets.DeleteUsedForUser(ctx, reset.UserID); err != nil {
		log.Printf("pruning reset tokens for %s failed: %v", reset.UserID, err)
	}

	_ = u.users.LogSecurityEvent(ctx, reset.UserID, domain.EventPasswordResetDone, "", nil)
	return nil
}

// CleanupExpiredResetTokens bulk-deletes tokens past expiry. Driven by the
// periodic sweep in internal/jobs.
func (u *AuthUsecase) CleanupExpiredResetTokens(ctx context.Context) (int, error) {
	return u.resets.CleanupExpired(ctx)
}
