// Package auth signs creators in with GitHub and keeps them signed in with a
// JWT stored in an HttpOnly cookie. It also hashes comment passwords.
//
// Flow:
//  1. /auth/github/login redirects to GitHub with a random state cookie
//  2. GitHub calls /auth/github/callback with a code
//  3. The code is exchanged for the GitHub profile, the creator is upserted
//  4. A signed token with sub=<user id> is set as the "token" cookie
//  5. RequireAuth validates the cookie on every admin request
//
// The token carries everything needed to authenticate, so no session table
// exists. The HMAC secret is the only server-side state.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer = "linkblocks"

	// DefaultSessionTTL is how long an admin stays signed in.
	DefaultSessionTTL = 12 * time.Hour
)

// TokenService issues and checks HS256 session tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService requires a secret of at least 16 characters.
// Generate one with: openssl rand -hex 32
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), ttl: DefaultSessionTTL}, nil
}

// WithTTL returns a copy of s whose tokens live for ttl. Non-positive
// values keep the current lifetime.
func (s *TokenService) WithTTL(ttl time.Duration) *TokenService {
	if ttl <= 0 {
		return s
	}
	out := *s
	out.ttl = ttl
	return &out
}

// TTL is the lifetime of tokens from Generate; the cookie uses the same value.
func (s *TokenService) TTL() time.Duration { return s.ttl }

type claims struct {
	jwt.RegisteredClaims
}

// Generate signs a session token for userID.
func (s *TokenService) Generate(userID string) (string, error) {
	return s.GenerateWithDuration(userID, s.ttl)
}

// GenerateWithDuration signs a token that expires after d. Tests pass a
// negative d to get an already expired token.
func (s *TokenService) GenerateWithDuration(userID string, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate returns the user ID in a valid token.
//
// The signing method is pinned to HS256 so a token claiming "alg": "none"
// or an asymmetric algorithm is rejected before the signature is looked at.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return "", fmt.Errorf("auth: token has no subject")
	}
	return c.Subject, nil
}
