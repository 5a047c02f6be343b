package security

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestGenerateMFASecret(t *testing.T) {
	secret, err := GenerateMFASecret("Aegis", "alice@example.com")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(secret.Secret), 32, "base32 of 160 bits")
	assert.Contains(t, secret.ProvisioningURI, "otpauth://totp/")
	assert.Contains(t, secret.ProvisioningURI, "issuer=Aegis")
	assert.Contains(t, secret.ProvisioningURI, "alice@example.com")
}

func TestVerifyMFACodeRoundTrip(t *testing.T) {
	secret, err := GenerateMFASecret("Aegis", "alice@example.com")
	require.NoError(t, err)

	base := time.Now()
	code, err := totp.GenerateCode(secret.Secret, base)
	require.NoError(t, err)

	// Valid at t and tolerated one step either side.
	assert.True(t, VerifyMFACodeAt(code, secret.Secret, base))
	assert.True(t, VerifyMFACodeAt(code, secret.Secret, base.Add(30*time.Second)))
	assert.True(t, VerifyMFACodeAt(code, secret.Secret, base.Add(-30*time.Second)))

	// Rejected two steps out.
	assert.False(t, VerifyMFACodeAt(code, secret.Secret, base.Add(90*time.Second)))
}

func TestVerifyMFACodeWrongSecret(t *testing.T) {
	a, err := GenerateMFASecret("Aegis", "alice@example.com")
	require.NoError(t, err)
	b, err := GenerateMFASecret("Aegis", "bob@example.com")
	require.NoError(t, err)

	now := time.Now()
	code, err := totp.GenerateCode(a.Secret, now)
	require.NoError(t, err)

	assert.False(t, VerifyMFACodeAt(code, b.Secret, now))
}

func TestVerifyMFACodeMalformed(t *testing.T) {
	secret, err := GenerateMFASecret("Aegis", "alice@example.com")
	require.NoError(t, err)

	assert.False(t, VerifyMFACode("", secret.Secret))
	assert.False(t, VerifyMFACode("12345", secret.Secret))
	assert.False(t, VerifyMFACode("abcdef", secret.Secret))
}

func TestBackupCodesUnique(t *testing.T) {
	codes, err := GenerateBackupCodes(BackupCodeCount)
	require.NoError(t, err)
	require.Len(t, codes, BackupCodeCount)

	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		assert.Len(t, code, BackupCodeLength)
		assert.False(t, seen[code], "duplicate backup code %s", code)
		seen[code] = true
	}
}

func TestBackupCodeHashAndVerify(t *testing.T) {
	codes, err := GenerateBackupCodes(3)
	require.NoError(t, err)

	hashes, err := HashBackupCodes(codes, bcrypt.MinCost)
	require.NoError(t, err)
	require.Len(t, hashes, 3)

	idx, ok := VerifyBackupCode(codes[1], hashes)
	assert.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = VerifyBackupCode("WRONGCOD", hashes)
	assert.False(t, ok)
}

func TestBackupCodeNormalization(t *testing.T) {
	codes := []string{"AB23CD45"}
	hashes, err := HashBackupCodes(codes, bcrypt.MinCost)
	require.NoError(t, err)

	// Dashes, spaces and case differences are tolerated on input.
	_, ok := VerifyBackupCode("ab23-cd45", hashes)
	assert.True(t, ok)
	_, ok = VerifyBackupCode(" AB23 CD45 ", hashes)
	assert.True(t, ok)
}

func TestLooksLikeBackupCode(t *testing.T) {
	assert.True(t, LooksLikeBackupCode("AB23CD45"))
	assert.True(t, LooksLikeBackupCode("ab23-cd45"))
	assert.False(t, LooksLikeBackupCode("123456"), "6 digits take the TOTP path")
	assert.False(t, LooksLikeBackupCode(""))
}
