// Package auth provides the bearer token used by the backend API client.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultLeeway is the clock skew tolerated when checking token expiry.
const DefaultLeeway = 30 * time.Second

// ErrMissingToken is returned when no bearer token is configured.
var ErrMissingToken = errors.New("auth token is not set")

// ErrExpiredToken is returned when the token's exp claim is in the past.
var ErrExpiredToken = errors.New("auth token has expired")

// Claims are the claims the backend puts in its access tokens.
// The client never verifies the signature; it only reads claims to
// fail fast on expired tokens and to tag logs with the user id.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId,omitempty"`
}

// TokenSource supplies a bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource serves a single configured token.
// Tokens that parse as JWTs are checked for expiry; opaque tokens are passed through.
type StaticTokenSource struct {
	token  string
	claims *Claims
	leeway time.Duration
	now    func() time.Time
}

// NewStaticTokenSource creates a token source for the given token.
// The token may carry a "Bearer " prefix, which is stripped.
func NewStaticTokenSource(token string) *StaticTokenSource {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	s := &StaticTokenSource{
		token:  token,
		leeway: DefaultLeeway,
		now:    time.Now,
	}
	if claims, err := ParseClaims(token); err == nil {
		s.claims = claims
	}
	return s
}

// Token returns the token, or ErrExpiredToken when its exp claim has passed.
func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", ErrMissingToken
	}
	if s.claims != nil && s.claims.ExpiresAt != nil {
		if s.now().After(s.claims.ExpiresAt.Time.Add(s.leeway)) {
			return "", fmt.Errorf("%w at %s", ErrExpiredToken, s.claims.ExpiresAt.Time.Format(time.RFC3339))
		}
	}
	return s.token, nil
}

// Subject returns the user the token was issued for, or empty string for opaque tokens.
func (s *StaticTokenSource) Subject() string {
	if s.claims == nil {
		return ""
	}
	if s.claims.UserID != "" {
		return s.claims.UserID
	}
	return s.claims.Subject
}

// ParseClaims decodes a JWT's claims without verifying its signature.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}
