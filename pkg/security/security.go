package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const tokenIssuer = "aegis-auth"

// Audience values discriminate the three token classes. A refresh token
// presented on the access path fails audience validation, and vice versa.
const (
	AudienceAccess  = "aegis:access"
	AudienceRefresh = "aegis:refresh"
	AudienceService = "aegis:service"
)

// ErrInvalidToken is the uniform verification failure. Callers never learn
// whether the signature, expiry, issuer or audience was at fault.
var ErrInvalidToken = errors.New("invalid or expired token")

// --- Password hashing (bcrypt) ---

// HashPassword generates a salted bcrypt digest with the given cost factor.
// The same function hashes account passwords and individual backup codes.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(digest), nil
}

// ComparePassword checks a plaintext against a bcrypt digest.
// A mismatch is a normal false result, not an error.
func ComparePassword(password, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

// --- Signed claims tokens ---

// Claims carries the identity payload embedded in access and refresh tokens.
type Claims struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	RoleID   string `json:"role_id,omitempty"`
	RoleName string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ServiceClaims carries a free-form payload for narrow-purpose links such as
// email verification. The jti makes each issued token unique.
type ServiceClaims struct {
	Payload map[string]string `json:"payload,omitempty"`
	jwt.RegisteredClaims
}

// SignerConfig holds the per-class secrets and lifetimes.
type SignerConfig struct {
	AccessSecret  string
	RefreshSecret string
	ServiceSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ServiceTTL    time.Duration
}

// TokenSigner issues and verifies the three signed token classes. Access,
// refresh and service tokens use distinct secrets and distinct audiences so
// cross-use is rejected twice over.
type TokenSigner struct {
	cfg SignerConfig
}

func NewTokenSigner(cfg SignerConfig) *TokenSigner {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.ServiceTTL == 0 {
		cfg.ServiceTTL = 365 * 24 * time.Hour
	}
	return &TokenSigner{cfg: cfg}
}

// AccessTTL reports the configured access-token lifetime.
func (s *TokenSigner) AccessTTL() time.Duration { return s.cfg.AccessTTL }

// IssueAccess creates a short-lived access token carrying identity and role.
func (s *TokenSigner) IssueAccess(userID, email, roleID, roleName string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Email:    email,
		RoleID:   roleID,
		RoleName: roleName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{AudienceAccess},
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.AccessSecret))
}

// IssueRefresh creates a long-lived refresh token used solely to mint new
// access tokens.
func (s *TokenSigner) IssueRefresh(userID, email string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.RefreshTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{AudienceRefresh},
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.RefreshSecret))
}

// IssueService creates a general-purpose token with an arbitrary payload,
// used for email-verification links and similar one-off flows.
func (s *TokenSigner) IssueService(payload map[string]string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = s.cfg.ServiceTTL
	}
	now := time.Now()
	claims := ServiceClaims{
		Payload: payload,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{AudienceService},
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.ServiceSecret))
}

// VerifyAccess validates an access token and returns its claims.
func (s *TokenSigner) VerifyAccess(tokenString string) (*Claims, error) {
	return verifyClaims(tokenString, s.cfg.AccessSecret, AudienceAccess)
}

// VerifyRefresh validates a refresh token and returns its claims.
func (s *TokenSigner) VerifyRefresh(tokenString string) (*Claims, error) {
	return verifyClaims(tokenString, s.cfg.RefreshSecret, AudienceRefresh)
}

// VerifyService validates a service token and returns its payload.
func (s *TokenSigner) VerifyService(tokenString string) (*ServiceClaims, error) {
	claims := &ServiceClaims{}
	if err := parseInto(tokenString, s.cfg.ServiceSecret, AudienceService, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func verifyClaims(tokenString, secret, audience string) (*Claims, error) {
	claims := &Claims{}
	if err := parseInto(tokenString, secret, audience, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func parseInto(tokenString, secret, audience string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// IsExpired decodes a token without verifying its signature and reports
// whether the embedded expiry has passed. Client-side hinting only; Verify*
// remains the authoritative check.
func IsExpired(tokenString string) bool {
	parser := jwt.NewParser()
	claims := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(tokenString, &claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return time.Now().After(claims.ExpiresAt.Time)
}

// --- Opaque random tokens ---

// GenerateOpaqueToken returns a hex string of n random bytes from a
// cryptographically secure source. Used for session and reset tokens, whose
// validity is determined purely by store lookup.
func GenerateOpaqueToken(n int) (string, error) {
	if n <= 0 {
		n = 32
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
