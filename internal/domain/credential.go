package domain

import "strings"

// CredentialKind discriminates the two bearer credential mechanisms that
// coexist in the system: stateless signed access tokens and stateful opaque
// session tokens. Both flow through one verification entry point so call
// sites cannot silently diverge on which invalidation path applies.
type CredentialKind int

const (
	// CredentialSignedAccess is a JWT access token; valid until natural
	// expiry, unaffected by session revocation.
	CredentialSignedAccess CredentialKind = iota
	// CredentialOpaqueSession is a random session token; validity is a store
	// lookup and revocation takes effect immediately.
	CredentialOpaqueSession
)

// Credential is a classified bearer token.
type Credential struct {
	Kind  CredentialKind
	Token string
}

// ClassifyCredential decides which verification path a bearer token takes.
// Signed tokens are three dot-separated base64 segments; opaque tokens are
// plain hex with no structure.
func ClassifyCredential(bearer string) Credential {
	if strings.Count(bearer, ".") == 2 {
		return Credential{Kind: CredentialSignedAccess, Token: bearer}
	}
	return Credential{Kind: CredentialOpaqueSession, Token: bearer}
}

// Principal is the verified identity attached to a request, whichever
// credential kind produced it.
type Principal struct {
	UserID    string
	Email     string
	RoleID    string
	RoleName  string
	SessionID string // set only for session credentials
	Source    CredentialKind
}

// Audit event types emitted to the log sink, one per state transition.
const (
	EventUserRegistered     = "USER_REGISTERED"
	EventLoginSuccess       = "LOGIN_SUCCESS"
	EventLoginFailed        = "LOGIN_FAILED"
	EventMFAFailed          = "MFA_FAILED"
	EventMFAEnabled         = "MFA_ENABLED"
	EventMFADisabled        = "MFA_DISABLED"
	EventTokenRefreshed     = "TOKEN_REFRESHED"
	EventPasswordChanged    = "PASSWORD_CHANGED"
	EventPasswordResetStart = "PASSWORD_RESET_REQUESTED"
	EventPasswordResetDone  = "PASSWORD_RESET_COMPLETED"
	EventEmailVerified      = "EMAIL_VERIFIED"
)
