package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltlabs/aegis/internal/domain"
	"github.com/cobaltlabs/aegis/internal/ratelimit"
)

func TestInitiatePasswordResetNoExistenceOracle(t *testing.T) {
	env := newTestEnv(t)

	env.register(t, "alice@example.com", "Secret1!")

	bob := env.register(t, "bob@example.com", "Secret1!")
	require.NoError(t, env.users.patch(bob.User.ID, func(u *domain.User) { u.IsActive = false }))

	known, err := env.initiateReset(t, "alice@example.com")
	require.NoError(t, err)
	unknown, err := env.initiateReset(t, "nobody@example.com")
	require.NoError(t, err)
	inactive, err := env.initiateReset(t, "bob@example.com")
	require.NoError(t, err)

	// Byte-identical responses in all three cases.
	assert.Equal(t, known, unknown)
	assert.Equal(t, known, inactive)
	assert.Equal(t, ResetInitiatedMessage, known)

	// Only the active account received a token.
	assert.Len(t, env.mailer.resetTokens, 1)
}

func TestInitiatePasswordResetRateLimited(t *testing.T) {
	env := newTestEnv(t)
	client := redis.NewClient(&redis.Options{Addr: env.mr.Addr()})
	env.auth.limiter = ratelimit.NewRedisLimiter(client, 15*time.Minute, 1)

	env.register(t, "alice@example.com", "Secret1!")

	_, err := env.initiateReset(t, "alice@example.com")
	require.NoError(t, err)

	// The second initiation from the same source exceeds the budget; no
	// further token is minted or dispatched.
	_, err = env.initiateReset(t, "alice@example.com")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Len(t, env.mailer.resetTokens, 1)
}

func TestInitiatePasswordResetMailFailure(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.failReset = true

	env.register(t, "alice@example.com", "Secret1!")

	_, err := env.initiateReset(t, "alice@example.com")
	assert.ErrorIs(t, err, domain.ErrNotificationFailed)
}

func TestCompletePasswordReset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, "alice@example.com", "Secret1!")
	login, err := env.login(t, "alice@example.com", "Secret1!", "")
	require.NoError(t, err)

	_, err = env.initiateReset(t, "alice@example.com")
	require.NoError(t, err)
	token := env.mailer.lastResetToken()
	require.NotEmpty(t, token)

	require.NoError(t, env.auth.CompletePasswordReset(ctx, token, "Rotated9!"))

	// The old password is gone and every prior session is revoked.
	_, err = env.login(t, "alice@example.com", "Secret1!", "")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = env.auth.Authenticate(ctx, login.SessionToken)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	result, err := env.login(t, "alice@example.com", "Rotated9!", "")
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
}

func TestCompletePasswordResetSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, "alice@example.com", "Secret1!")
	_, err := env.initiateReset(t, "alice@example.com")
	require.NoError(t, err)
	token := env.mailer.lastResetToken()

	require.NoError(t, env.auth.CompletePasswordReset(ctx, token, "Rotated9!"))

	// CompletePasswordReset prunes the user's used tokens, so a replay reads
	// as an unknown token rather than a used one.
	err = env.auth.CompletePasswordReset(ctx, token, "Another3!")
	assert.ErrorIs(t, err, domain.ErrResetTokenInvalid)

	// The rotation from the replay attempt never happened.
	_, err = env.login(t, "alice@example.com", "Rotated9!", "")
	require.NoError(t, err)
}

func TestCompletePasswordResetUnknownToken(t *testing.T) {
	env := newTestEnv(t)

	err := env.auth.CompletePasswordReset(context.Background(), "never-issued", "Rotated9!")
	assert.ErrorIs(t, err, domain.ErrResetTokenInvalid)
}

func TestCompletePasswordResetExpiredToken(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.ResetTokenTTL = -time.Minute })
	ctx := context.Background()

	env.register(t, "alice@example.com", "Secret1!")
	_, err := env.initiateReset(t, "alice@example.com")
	require.NoError(t, err)
	token := env.mailer.lastResetToken()

	err = env.auth.CompletePasswordReset(ctx, token, "Rotated9!")
	assert.ErrorIs(t, err, domain.ErrResetTokenExpired)

	// The old password still works.
	_, err = env.login(t, "alice@example.com", "Secret1!", "")
	require.NoError(t, err)
}

func TestCleanupExpiredResetTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.register(t, "alice@example.com", "Secret1!")
	_, err := env.initiateReset(t, "alice@example.com")
	require.NoError(t, err)

	live := env.mailer.lastResetToken()

	// Issue a second token that is already past expiry.
	env.auth.cfg.ResetTokenTTL = -time.Minute
	_, err = env.initiateReset(t, "alice@example.com")
	require.NoError(t, err)
	env.auth.cfg.ResetTokenTTL = 15 * time.Minute

	count, err := env.auth.CleanupExpiredResetTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The live token survives the sweep.
	require.NoError(t, env.auth.CompletePasswordReset(ctx, live, "Rotated9!"))
}
