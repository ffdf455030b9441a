package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims *Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTProviderResolvesClaims(t *testing.T) {
	userID := uuid.New()
	token := signToken(t, "test-secret", &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		SessionID: "sess-1",
		Role:      "operator",
		Scopes:    []string{"transaction:create", "balance:read"},
		TwoFactor: true,
	})

	principal, err := NewJWTProvider("test-secret").Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, userID, principal.UserID)
	assert.Equal(t, "sess-1", principal.SessionID)
	assert.Equal(t, "operator", principal.Role)
	assert.True(t, principal.TwoFactorPassed)
	assert.True(t, principal.HasScope("balance:read"))
	assert.False(t, principal.HasScope("payout:execute"))
}

func TestJWTProviderRejectsBadTokens(t *testing.T) {
	provider := NewJWTProvider("test-secret")
	ctx := context.Background()

	// wrong signing key
	token := signToken(t, "other-secret", &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	_, err := provider.Resolve(ctx, token)
	assert.Error(t, err)

	// expired
	token = signToken(t, "test-secret", &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	_, err = provider.Resolve(ctx, token)
	assert.Error(t, err)

	// subject is not a user id
	token = signToken(t, "test-secret", &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "not-a-uuid",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	_, err = provider.Resolve(ctx, token)
	assert.Error(t, err)

	_, err = provider.Resolve(ctx, "garbage")
	assert.Error(t, err)
}

func TestTOTPVerifier(t *testing.T) {
	verifier := NewTOTPVerifier(map[string]string{})
	secret, err := verifier.GenerateSecret("finguard", "user-1", "user-1@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, secret)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	assert.True(t, verifier.Verify("user-1", code))
	assert.False(t, verifier.Verify("user-1", "000000"))
	assert.False(t, verifier.Verify("unknown-user", code))
}
