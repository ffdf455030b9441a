package identity

import (
	"time"

	"github.com/pquerna/otp/totp"
)

// TOTPVerifier validates time-based one-time codes supplied by callers whose
// session lacks a standing second-factor flag. Secrets come from the
// platform's user store keyed by user id.
type TOTPVerifier struct {
	secrets map[string]string
	now     func() time.Time
}

// NewTOTPVerifier creates a verifier over the given userID -> secret table
func NewTOTPVerifier(secrets map[string]string) *TOTPVerifier {
	return &TOTPVerifier{secrets: secrets, now: time.Now}
}

// Verify checks the code against the user's enrolled TOTP secret
func (v *TOTPVerifier) Verify(userID, code string) bool {
	secret, ok := v.secrets[userID]
	if !ok {
		return false
	}
	return totp.Validate(code, secret)
}

// GenerateSecret enrolls a new TOTP secret for a user and returns it
func (v *TOTPVerifier) GenerateSecret(issuer, userID, accountName string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		SecretSize:  32,
	})
	if err != nil {
		return "", err
	}
	v.secrets[userID] = key.Secret()
	return key.Secret(), nil
}
