package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/cobaltlabs/aegis/internal/domain"
	"github.com/cobaltlabs/aegis/internal/ratelimit"
	"github.com/cobaltlabs/aegis/internal/repository"
	"github.com/cobaltlabs/aegis/pkg/security"
)

// mockUserRepo is an in-memory directory store for flow tests.
type mockUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*domain.User
	byEmail map[string]string
	events  []string
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		byID:    make(map[string]*domain.User),
		byEmail: make(map[string]string),
	}
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return copyUser(m.byID[id]), nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return copyUser(user), nil
}

func (m *mockUserRepo) Create(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(user.Email)
	if _, exists := m.byEmail[email]; exists {
		return domain.ErrDuplicateEmail
	}
	user.ID = uuid.NewString()
	user.Email = email
	if user.RoleID == "" {
		user.RoleID = "role-user"
		user.RoleName = "user"
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	m.byID[user.ID] = copyUser(user)
	m.byEmail[email] = user.ID
	return nil
}

func (m *mockUserRepo) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	return m.patch(userID, func(u *domain.User) { u.PasswordHash = passwordHash })
}

func (m *mockUserRepo) UpdateMFA(_ context.Context, userID, secret string, backupCodes []string, enabled bool) error {
	return m.patch(userID, func(u *domain.User) {
		u.MFASecret = secret
		u.MFABackupCodes = append([]string{}, backupCodes...)
		u.MFAEnabled = enabled
	})
}

func (m *mockUserRepo) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	return m.patch(userID, func(u *domain.User) { u.LastLoginAt = &at })
}

func (m *mockUserRepo) SetEmailVerified(_ context.Context, userID string) error {
	return m.patch(userID, func(u *domain.User) { u.EmailVerified = true })
}

func (m *mockUserRepo) patch(userID string, fn func(*domain.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	fn(user)
	user.UpdatedAt = time.Now()
	return nil
}

func (m *mockUserRepo) LogSecurityEvent(_ context.Context, _, eventType, _ string, _ map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
	return nil
}

func (m *mockUserRepo) eventCount(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e == eventType {
			n++
		}
	}
	return n
}

func copyUser(u *domain.User) *domain.User {
	c := *u
	c.MFABackupCodes = append([]string{}, u.MFABackupCodes...)
	return &c
}

// captureMailer records outbound notifications and can be told to fail the
// reset dispatch.
type captureMailer struct {
	mu           sync.Mutex
	welcomes     int
	verifyTokens []string
	resetTokens  []string
	changed      int
	alerts       []string
	failReset    bool
}

func (m *captureMailer) SendWelcome(_ context.Context, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.welcomes++
	return nil
}

func (m *captureMailer) SendEmailVerification(_ context.Context, _, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyTokens = append(m.verifyTokens, token)
	return nil
}

func (m *captureMailer) SendPasswordReset(_ context.Context, _, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReset {
		return errors.New("smtp unreachable")
	}
	m.resetTokens = append(m.resetTokens, token)
	return nil
}

func (m *captureMailer) SendPasswordChanged(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changed++
	return nil
}

func (m *captureMailer) SendSecurityAlert(_ context.Context, _, event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, event)
	return nil
}

func (m *captureMailer) lastResetToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.resetTokens) == 0 {
		return ""
	}
	return m.resetTokens[len(m.resetTokens)-1]
}

type testEnv struct {
	auth   *AuthUsecase
	users  *mockUserRepo
	mailer *captureMailer
	signer *security.TokenSigner
	mr     *miniredis.Miniredis
}

// newTestEnv wires the usecase against miniredis-backed stores, a fast hash
// cost and a generous rate limit so unrelated tests never trip it.
func newTestEnv(t *testing.T, opts ...func(*Config)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	users := newMockUserRepo()
	mailer := &captureMailer{}
	signer := security.NewTokenSigner(security.SignerConfig{
		AccessSecret:  "test-access-secret",
		RefreshSecret: "test-refresh-secret",
		ServiceSecret: "test-service-secret",
	})

	cfg := Config{
		BcryptCost:    bcrypt.MinCost,
		SessionTTL:    7 * 24 * time.Hour,
		ResetTokenTTL: 15 * time.Minute,
		MFAIssuer:     "Aegis",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	auth := NewAuthUsecase(
		users,
		repository.NewRedisSessionRepo(client),
		repository.NewRedisResetRepo(client),
		ratelimit.NewRedisLimiter(client, 15*time.Minute, 1000),
		mailer,
		signer,
		cfg,
	)

	return &testEnv{auth: auth, users: users, mailer: mailer, signer: signer, mr: mr}
}

func (e *testEnv) register(t *testing.T, email, password string) *RegisterResult {
	t.Helper()
	result, err := e.auth.Register(context.Background(), RegisterInput{
		Email:     email,
		Password:  password,
		FirstName: "Alice",
		LastName:  "Tester",
	})
	if err != nil {
		t.Fatalf("register %s failed: %v", email, err)
	}
	return result
}

func (e *testEnv) login(t *testing.T, email, password, mfaCode string) (*LoginResult, error) {
	t.Helper()
	return e.auth.Login(context.Background(), LoginInput{
		Email:     email,
		Password:  password,
		MFACode:   mfaCode,
		IP:        "203.0.113.9",
		UserAgent: "go-test",
	})
}

func (e *testEnv) initiateReset(t *testing.T, email string) (string, error) {
	t.Helper()
	return e.auth.InitiatePasswordReset(context.Background(), email, "203.0.113.9")
}
