package security

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod     = 30
	totpDigits     = otp.DigitsSix
	totpSecretSize = 20 // 160 bits, RFC 4226 minimum

	// BackupCodeCount codes of BackupCodeLength characters are generated
	// once at MFA enablement and returned in plaintext exactly once.
	BackupCodeCount  = 10
	BackupCodeLength = 8
)

const backupCodeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// MFASecret is the result of provisioning a new TOTP enrollment. Nothing is
// persisted until the caller proves it captured the secret (see enablement).
type MFASecret struct {
	Secret          string
	ProvisioningURI string
}

// GenerateMFASecret produces a fresh base32 shared secret and the otpauth://
// provisioning URI for authenticator apps.
func GenerateMFASecret(issuer, accountEmail string) (*MFASecret, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountEmail,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      totpDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp secret: %w", err)
	}

	return &MFASecret{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
	}, nil
}

// VerifyMFACode checks a 6-digit code against the secret, accepting the
// current 30s time step plus one step either side for clock skew.
func VerifyMFACode(code, secret string) bool {
	ok, err := totp.ValidateCustom(strings.TrimSpace(code), secret, time.Now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      1,
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// VerifyMFACodeAt is VerifyMFACode evaluated at an explicit instant.
func VerifyMFACodeAt(code, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(strings.TrimSpace(code), secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      1,
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// GenerateBackupCodes returns n single-use recovery codes. The charset skips
// 0/O/1/I to keep hand-typed entry unambiguous.
func GenerateBackupCodes(n int) ([]string, error) {
	if n <= 0 {
		n = BackupCodeCount
	}
	codes := make([]string, 0, n)
	max := big.NewInt(int64(len(backupCodeCharset)))
	for i := 0; i < n; i++ {
		var b strings.Builder
		for j := 0; j < BackupCodeLength; j++ {
			idx, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, fmt.Errorf("failed to generate backup code: %w", err)
			}
			b.WriteByte(backupCodeCharset[idx.Int64()])
		}
		codes = append(codes, b.String())
	}
	return codes, nil
}

// HashBackupCodes hashes each code independently with the credential hasher.
func HashBackupCodes(codes []string, cost int) ([]string, error) {
	hashes := make([]string, 0, len(codes))
	for _, code := range codes {
		h, err := HashPassword(NormalizeBackupCode(code), cost)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}

// VerifyBackupCode compares a candidate against the stored hashes and returns
// the index of the matching hash so the caller can consume it.
func VerifyBackupCode(code string, hashes []string) (int, bool) {
	normalized := NormalizeBackupCode(code)
	for i, h := range hashes {
		if ComparePassword(normalized, h) {
			return i, true
		}
	}
	return -1, false
}

// NormalizeBackupCode canonicalizes user input: uppercase, no spaces or dashes.
func NormalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

// LooksLikeBackupCode reports whether input should take the backup-code
// verification path rather than the 6-digit TOTP path.
func LooksLikeBackupCode(input string) bool {
	return len(NormalizeBackupCode(input)) == BackupCodeLength
}
