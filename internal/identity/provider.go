// Package identity supplies the caller's id, granted scopes, second-factor
// status, and role to the financial policy pipeline.
package identity

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Principal is the authenticated caller of a request
type Principal struct {
	UserID          uuid.UUID
	SessionID       string
	Role            string
	Scopes          []string
	TwoFactorPassed bool
}

// HasScope reports whether the principal holds the given scope
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// SessionProvider resolves a bearer credential into a Principal
type SessionProvider interface {
	Resolve(ctx context.Context, token string) (*Principal, error)
}

// Claims is the JWT claim set issued by the platform's identity service
type Claims struct {
	jwt.RegisteredClaims
	SessionID string   `json:"sid"`
	Role      string   `json:"role"`
	Scopes    []string `json:"scopes"`
	TwoFactor bool     `json:"2fa"`
}

// JWTProvider validates HS256 session tokens
type JWTProvider struct {
	secret []byte
}

// NewJWTProvider creates a provider validating tokens signed with secret
func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret)}
}

// Resolve parses and validates the token and builds the caller's Principal
func (p *JWTProvider) Resolve(ctx context.Context, token string) (*Principal, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid session token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid subject claim: %w", err)
	}

	return &Principal{
		UserID:          userID,
		SessionID:       claims.SessionID,
		Role:            claims.Role,
		Scopes:          claims.Scopes,
		TwoFactorPassed: claims.TwoFactor,
	}, nil
}

// StaticProvider maps fixed tokens to principals, used in tests and local runs
type StaticProvider struct {
	Principals map[string]*Principal
}

// Resolve looks the token up in the static table
func (p *StaticProvider) Resolve(ctx context.Context, token string) (*Principal, error) {
	principal, ok := p.Principals[token]
	if !ok {
		return nil, fmt.Errorf("unknown session token")
	}
	return principal, nil
}
