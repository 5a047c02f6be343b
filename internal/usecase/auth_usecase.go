package usecase

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cobaltlabs/aegis/internal/domain"
	"github.com/cobaltlabs/aegis/internal/notify"
	"github.com/cobaltlabs/aegis/internal/ratelimit"
	"github.com/cobaltlabs/aegis/pkg/security"
)

// Config carries the tunables the flows depend on.
type Config struct {
	BcryptCost    int
	SessionTTL    time.Duration
	ResetTokenTTL time.Duration
	MFAIssuer     string
}

// AuthUsecase composes the credential hasher, token signer, MFA engine,
// session manager and reset manager into the login state machine and its
// sibling flows. Stateless between calls; all state lives in the stores.
type AuthUsecase struct {
	users    domain.UserRepository
	sessions domain.SessionRepository
	resets   domain.ResetTokenRepository
	limiter  ratelimit.Limiter
	mailer   notify.Mailer
	signer   *security.TokenSigner
	cfg      Config
}

func NewAuthUsecase(
	users domain.UserRepository,
	sessions domain.SessionRepository,
	resets domain.ResetTokenRepository,
	limiter ratelimit.Limiter,
	mailer notify.Mailer,
	signer *security.TokenSigner,
	cfg Config,
) *AuthUsecase {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	if cfg.ResetTokenTTL == 0 {
		cfg.ResetTokenTTL = 15 * time.Minute
	}
	return &AuthUsecase{
		users:    users,
		sessions: sessions,
		resets:   resets,
		limiter:  limiter,
		mailer:   mailer,
		signer:   signer,
		cfg:      cfg,
	}
}

// RegisterInput is the payload for account creation.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	RoleID    string
}

// RegisterResult is returned on successful registration. The verification
// token backs the email-confirmation link.
type RegisterResult struct {
	User              *domain.User      `json:"user"`
	TokenPair         *domain.TokenPair `json:"tokens"`
	VerificationToken string            `json:"-"`
}

// LoginInput is the payload for the login state machine.
type LoginInput struct {
	Email     string
	Password  string
	MFACode   string
	IP        string
	UserAgent string
}

// LoginResult is either a completed authentication (tokens and session) or
// the MFARequired branch, which is a legitimate intermediate outcome and
// carries no credentials.
type LoginResult struct {
	User         *domain.User      `json:"user,omitempty"`
	TokenPair    *domain.TokenPair `json:"tokens,omitempty"`
	SessionID    string            `json:"session_id,omitempty"`
	SessionToken string            `json:"session_token,omitempty"`
	MFARequired  bool              `json:"mfa_required,omitempty"`
	UserID       string            `json:"user_id,omitempty"`
}

// RefreshResult carries a freshly minted access token.
type RefreshResult struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Register creates a new account. The email must not already be registered.
func (u *AuthUsecase) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	hash, err := security.HashPassword(input.Password, u.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Email:        strings.ToLower(input.Email),
		PasswordHash: hash,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		IsActive:     true,
		RoleID:       input.RoleID,
	}
	if err := u.users.Create(ctx, user); err != nil {
		return nil, err
	}

	// Narrow-purpose service token backing the email-verification link.
	verification, err := u.signer.IssueService(map[string]string{
		"purpose": "email_verification",
		"user_id": user.ID,
	}, 0)
	if err != nil {
		return nil, err
	}

	pair, err := u.generateTokenPair(user)
	if err != nil {
		return nil, err
	}

	if err := u.mailer.SendWelcome(ctx, user.Email, user.FirstName); err != nil {
		log.Printf("welcome mail for %s failed: %v", user.ID, err)
	}
	if err := u.mailer.SendEmailVerification(ctx, user.Email, verification); err != nil {
		log.Printf("verification mail for %s failed: %v", user.ID, err)
	}
	_ = u.users.LogSecurityEvent(ctx, user.ID, domain.EventUserRegistered, "", nil)

	return &RegisterResult{User: user, TokenPair: pair, VerificationToken: verification}, nil
}

// Login runs the authentication state machine: rate limit, credentials,
// conditional MFA, session creation, token issuance.
func (u *AuthUsecase) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	if res, err := u.limiter.Allow(ctx, input.IP); err != nil {
		return nil, err
	} else if !res.Allowed {
		return nil, &domain.RateLimitError{RetryAfter: res.RetryAfter}
	}

	user, err := u.users.GetByEmail(ctx, strings.ToLower(input.Email))
	if err != nil {
		// Unknown email is indistinguishable from a wrong password.
		_ = u.users.LogSecurityEvent(ctx, "", domain.EventLoginFailed, input.IP,
			map[string]interface{}{"reason": "unknown_email"})
		return nil, domain.ErrInvalidCredentials
	}

	if !user.IsActive {
		// Logged distinctly server-side, generic to the caller.
		_ = u.users.LogSecurityEvent(ctx, user.ID, domain.EventLoginFailed, input.IP,
			map[string]interface{}{"reason": "inactive"})
		return nil, domain.ErrInvalidCredentials
	}

	if !security.ComparePassword(input.Password, user.PasswordHash) {
		_ = u.users.LogSecurityEvent(ctx, user.ID, domain.EventLoginFailed, input.IP,
			map[string]interface{}{"reason": "bad_password"})
		return nil, domain.ErrInvalidCredentials
	}

	if user.MFARequired() {
		if input.MFACode == "" {
			// Intermediate outcome: no session, no tokens.
			return &LoginResult{MFARequired: true, UserID: user.ID}, nil
		}
		if err := u.verifySecondFactor(ctx, user, input.MFACode); err != nil {
			_ = u.users.LogSecurityEvent(ctx, user.ID, domain.EventMFAFailed, input.IP, nil)
			return nil, err
		}
	}

	return u.completeLogin(ctx, user, input.IP, input.UserAgent)
}

// verifySecondFactor accepts a 6-digit TOTP code or a backup code. A matched
// backup code is removed from the stored list before anything else happens,
// so it can never be replayed.
func (u *AuthUsecase) verifySecondFactor(ctx context.Context, user *domain.User, code string) error {
	if security.LooksLikeBackupCode(code) {
		idx, ok := security.VerifyBackupCode(code, user.MFABackupCodes)
		if !ok {
			return domain.ErrInvalidMFACode
		}
		remaining := append([]string{}, user.MFABackupCodes[:idx]...)
		remaining = append(remaining, user.MFABackupCodes[idx+1:]...)
		if err := u.users.UpdateMFA(ctx, user.ID, user.MFASecret, remaining, user.MFAEnabled); err != nil {
			return err
		}
		user.MFABackupCodes = remaining
		return nil
	}
	if !security.VerifyMFACode(code, user.MFASecret) {
		return domain.ErrInvalidMFACode
	}
	return nil
}

// completeLogin runs the tail of the state machine once the user is
// authenticated: last-login stamp, session, token pair, audit event.
func (u *AuthUsecase) completeLogin(ctx context.Context, user *domain.User, ip, userAgent string) (*LoginResult, error) {
	now := time.Now()
	if err := u.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.LastLoginAt = &now

	session, err := u.createSession(ctx, user.ID, ip, userAgent)
	if err != nil {
		return nil, err
	}

	pair, err := u.generateTokenPair(user)
	if err != nil {
		return nil, err
	}
	_ = u.limiter.Reset(ctx, ip)
	_ = u.users.LogSecurityEvent(ctx, user.ID, domain.EventLoginSuccess, ip,
		map[string]interface{}{"session_id": session.ID})

	return &LoginResult{
		User:         user,
		TokenPair:    pair,
		SessionID:    session.ID,
		SessionToken: session.Token,
	}, nil
}

func (u *AuthUsecase) createSession(ctx context.Context, userID, ip, userAgent string) (*domain.Session, error) {
	token, err := security.GenerateOpaqueToken(32)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	session := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		IP:        ip,
		UserAgent: userAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(u.cfg.SessionTTL),
	}
	if err := u.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (u *AuthUsecase) generateTokenPair(user *domain.User) (*domain.TokenPair, error) {
	access, err := u.signer.IssueAccess(user.ID, user.Email, user.RoleID, user.RoleName)
	if err != nil {
		return nil, err
	}
	refresh, err := u.signer.IssueRefresh(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(u.signer.AccessTTL().Seconds()),
	}, nil
}

// Refresh mints a new access token from a valid refresh token. A revoked or
// inactive account fails uniformly with ErrInvalidToken.
func (u *AuthUsecase) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	claims, err := u.signer.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	user, err := u.users.GetByID(ctx, claims.UserID)
	if err != nil || !user.IsActive {
		return nil, domain.ErrInvalidToken
	}

	access, err := u.signer.IssueAccess(user.ID, user.Email, user.RoleID, user.RoleName)
	if err != nil {
		return nil, err
	}

	_ = u.users.LogSecurityEvent(ctx, user.ID, domain.EventTokenRefreshed, "", nil)

	return &RefreshResult{
		AccessToken: access,
		ExpiresIn:   int64(u.signer.AccessTTL().Seconds()),
	}, nil
}

// Logout revokes one session. The session must belong to the calling user;
// anything else reads as not found.
func (u *AuthUsecase) Logout(ctx context.Context, userID, sessionID string) error {
	session, err := u.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return domain.ErrSessionNotFound
	}
	return u.sessions.Delete(ctx, sessionID)
}

// LogoutAll revokes every session the user holds.
func (u *AuthUsecase) LogoutAll(ctx context.Context, userID string) error {
	_, err := u.sessions.DeleteAllForUser(ctx, userID)
	return err
}

// ChangePassword verifies the current password, installs the new hash and
// forces re-authentication everywhere by revoking all sessions.
func (u *AuthUsecase) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := u.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !security.ComparePassword(currentPassword, user.PasswordHash) {
		return domain.ErrInvalidCredentials
	}

	hash, err := security.HashPassword(newPassword, u.cfg.BcryptCost)
	if err != nil {
		return err
	}
	if err := u.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	if _, err := u.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return err
	}

	if err := u.mailer.SendPasswordChanged(ctx, user.Email); err != nil {
		log.Printf("password-changed mail for %s failed: %v", userID, err)
	}
	_ = u.users.LogSecurityEvent(ctx, userID, domain.EventPasswordChanged, "", nil)
	return nil
}

// VerifyEmail redeems an email-verification service token.
func (u *AuthUsecase) VerifyEmail(ctx context.Context, token string) error {
	claims, err := u.signer.VerifyService(token)
	if err != nil {
		return domain.ErrInvalidToken
	}
	if claims.Payload["purpose"] != "email_verification" || claims.Payload["user_id"] == "" {
		return domain.ErrInvalidToken
	}

	userID := claims.Payload["user_id"]
	if err := u.users.SetEmailVerified(ctx, userID); err != nil {
		return err
	}
	_ = u.users.LogSecurityEvent(ctx, userID, domain.EventEmailVerified, "", nil)
	return nil
}

// Authenticate is the single verification entry point for bearer requests.
// It classifies the credential and dispatches to the matching path: signed
// access tokens are verified statelessly, opaque tokens resolve to a live
// session. Revocation only affects the session path; access tokens run to
// natural expiry.
func (u *AuthUsecase) Authenticate(ctx context.Context, bearer string) (*domain.Principal, error) {
	cred := domain.ClassifyCredential(bearer)

	switch cred.Kind {
	case domain.CredentialSignedAccess:
		claims, err := u.signer.VerifyAccess(cred.Token)
		if err != nil {
			return nil, domain.ErrInvalidToken
		}
		return &domain.Principal{
			UserID:   claims.UserID,
			Email:    claims.Email,
			RoleID:   claims.RoleID,
			RoleName: claims.RoleName,
			Source:   domain.CredentialSignedAccess,
		}, nil

	default:
		session, err := u.sessions.GetByToken(ctx, cred.Token)
		if err != nil {
			return nil, err
		}
		user, err := u.users.GetByID(ctx, session.UserID)
		if err != nil {
			return nil, domain.ErrSessionNotFound
		}
		if !user.IsActive {
			return nil, domain.ErrAccountInactive
		}
		return &domain.Principal{
			UserID:    user.ID,
			Email:     user.Email,
			RoleID:    user.RoleID,
			RoleName:  user.RoleName,
			SessionID: session.ID,
			Source:    domain.CredentialOpaqueSession,
		}, nil
	}
}
