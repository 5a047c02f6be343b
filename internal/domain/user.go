package domain

import (
	"context"
	"time"
)

// User represents the central identity entity of the system. The directory
// store owns the record; this core reads and patches specific fields.
type User struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"` // Never expose the password hash in JSON
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	IsActive       bool       `json:"is_active"`
	EmailVerified  bool       `json:"email_verified"`
	MFAEnabled     bool       `json:"mfa_enabled"`
	MFASecret      string     `json:"-"` // TOTP shared secret
	MFABackupCodes []string   `json:"-"` // bcrypt digests, one per unused code
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	RoleID         string     `json:"role_id"`
	RoleName       string     `json:"role"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// MFARequired reports whether login must present a second factor.
// A user with a non-empty secret always requires one; a user without never does.
func (u *User) MFARequired() bool {
	return u.MFASecret != ""
}

// Session binds an opaque bearer token to a user, device context and an
// absolute expiry. Valid iff it exists in the store and now < ExpiresAt.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"-"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session's absolute expiry has passed.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ResetToken is a single-use, time-boxed password-reset credential.
// Redeemable iff !Used && now < ExpiresAt; redemption is never reversible.
type ResetToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"-"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token's validity window has passed.
func (t *ResetToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TokenPair is the computed access/refresh pair returned after a successful
// login. Never persisted.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// UserRepository defines the contract against the directory store.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateMFA(ctx context.Context, userID, secret string, backupCodes []string, enabled bool) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	SetEmailVerified(ctx context.Context, userID string) error

	// LogSecurityEvent emits one immutable record per significant state
	// transition to the audit sink.
	LogSecurityEvent(ctx context.Context, userID, eventType, ip string, metadata map[string]interface{}) error
}

// SessionRepository manages opaque-token session records.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetByToken(ctx context.Context, token string) (*Session, error)
	GetByID(ctx context.Context, id string) (*Session, error)
	// Delete is idempotent: removing a nonexistent session is not an error.
	Delete(ctx context.Context, id string) error
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
}

// ResetTokenRepository manages single-use password-reset tokens.
type ResetTokenRepository interface {
	Create(ctx context.Context, token *ResetToken) error
	// Consume atomically flips the used flag. Exactly one of two concurrent
	// calls on the same token wins; the loser gets ErrResetTokenUsed.
	Consume(ctx context.Context, token string) (*ResetToken, error)
	DeleteUsedForUser(ctx context.Context, userID string) error
	CleanupExpired(ctx context.Context) (int, error)
}
