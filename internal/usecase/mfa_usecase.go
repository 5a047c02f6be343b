package usecase

import (
	"context"
	"log"

	"github.com/cobaltlabs/aegis/internal/domain"
	"github.com/cobaltlabs/aegis/pkg/security"
)

// SetupMFA provisions a candidate TOTP enrollment: a fresh secret and the
// provisioning URI for authenticator apps. Nothing is persisted here;
// persistence happens only on EnableMFA, after the caller has proven it
// captured the secret. Backup codes are minted there too.
func (u *AuthUsecase) SetupMFA(ctx context.Context, userID string) (*security.MFASecret, error) {
	user, err := u.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MFAEnabled {
		return nil, domain.ErrMFAAlreadyEnabled
	}
	return security.GenerateMFASecret(u.cfg.MFAIssuer, user.Email)
}

// EnableMFA turns the factor on. The code must validate against the
// candidate secret, which guards against locking the user into a secret
// their authenticator never captured. On success the secret and freshly
// hashed backup codes are persisted in one write, and the plaintext codes
// are returned exactly once.
func (u *AuthUsecase) EnableMFA(ctx context.Context, userID, code, secret string) ([]string, error) {
	user, err := u.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MFAEnabled {
		return nil, domain.ErrMFAAlreadyEnabled
	}
	if !security.VerifyMFACode(code, secret) {
		return nil, domain.ErrInvalidMFACode
	}

	codes, err := security.GenerateBackupCodes(security.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	hashes, err := security.HashBackupCodes(codes, u.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	if err := u.users.UpdateMFA(ctx, userID, secret, hashes, true); err != nil {
		return nil, err
	}

	if err := u.mailer.SendSecurityAlert(ctx, user.Email, "mfa_enabled"); err != nil {
		log.Printf("mfa-enabled alert for %s failed: %v", userID, err)
	}
	_ = u.users.LogSecurityEvent(ctx, userID, domain.EventMFAEnabled, "", nil)

	return codes, nil
}

// DisableMFA turns the factor off, accepting either a current TOTP code or a
// backup code. One factor suffices: this is the deliberate recovery path.
// Clearing the enrollment revokes every session, forcing re-authentication
// after the credential-affecting change.
func (u *AuthUsecase) DisableMFA(ctx context.Context, userID, codeOrBackupCode string) error {
	user, err := u.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.MFASecret == "" {
		return domain.ErrMFANotEnabled
	}

	if err := u.verifySecondFactor(ctx, user, codeOrBackupCode); err != nil {
		_ = u.users.LogSecurityEvent(ctx, userID, domain.EventMFAFailed, "", nil)
		return err
	}

	if err := u.users.UpdateMFA(ctx, userID, "", nil, false); err != nil {
		return err
	}
	if _, err := u.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return err
	}

	if err := u.mailer.SendSecurityAlert(ctx, user.Email, "mfa_disabled"); err != nil {
		log.Printf("mfa-disabled alert for %s failed: %v", userID, err)
	}
	_ = u.users.LogSecurityEvent(ctx, userID, domain.EventMFADisabled, "", nil)
	return nil
}
