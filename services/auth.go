package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingToken = errors.New("missing authentication token")
	ErrInvalidToken = errors.New("invalid authentication token")
)

// Authorizer turns a bearer token into the subject it authenticates
type Authorizer interface {
	Authorize(ctx context.Context, token string) (subject string, err error)
}

// AuthorizerFunc adapts a function to Authorizer
type AuthorizerFunc func(ctx context.Context, token string) (string, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, token string) (string, error) {
	return f(ctx, token)
}

// StaticTokenAuthorizer compares against one shared secret.
// With no expected token configured any non-empty token is accepted; this is
// a placeholder, not an authentication system.
type StaticTokenAuthorizer struct {
	expected string
}

func NewStaticTokenAuthorizer(expected string) *StaticTokenAuthorizer {
	return &StaticTokenAuthorizer{expected: strings.TrimSpace(expected)}
}

// Strict reports whether a server-side token is configured
func (a *StaticTokenAuthorizer) Strict() bool { return a.expected != "" }

func (a *StaticTokenAuthorizer) Authorize(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	if a.expected == "" {
		return "anonymous", nil
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.expected)) != 1 {
		return "", ErrInvalidToken
	}
	return "api-token", nil
}

// BcryptTokenAuthorizer checks tokens against a bcrypt hash so the secret
// itself never sits in the environment.
type BcryptTokenAuthorizer struct {
	hash []byte
}

func NewBcryptTokenAuthorizer(hash string) (*BcryptTokenAuthorizer, error) {
	hash = strings.TrimSpace(hash)
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("invalid bcrypt token hash: %w", err)
	}
	return &BcryptTokenAuthorizer{hash: []byte(hash)}, nil
}

func (a *BcryptTokenAuthorizer) Authorize(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(token)); err != nil {
		return "", ErrInvalidToken
	}
	return "api-token", nil
}

// JWTAuthorizer verifies HS256 tokens issued elsewhere; the subject is the
// "sub" claim.
type JWTAuthorizer struct {
	secret   []byte
	issuer   string
	audience string
}

// JWTOption narrows which tokens a JWTAuthorizer accepts
type JWTOption func(*JWTAuthorizer)

func WithIssuer(iss string) JWTOption   { return func(a *JWTAuthorizer) { a.issuer = iss } }
func WithAudience(aud string) JWTOption { return func(a *JWTAuthorizer) { a.audience = aud } }

func NewJWTAuthorizer(secret string, opts ...JWTOption) (*JWTAuthorizer, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	a := &JWTAuthorizer{secret: []byte(secret)}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

func (a *JWTAuthorizer) Authorize(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return "", ErrInvalidToken
	}
	if a.audience != "" && !claims.VerifyAudience(a.audience, true) {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// ChainAuthorizer tries each authorizer in turn and returns the first success
type ChainAuthorizer []Authorizer

func (c ChainAuthorizer) Authorize(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	for _, a := range c {
		if sub, err := a.Authorize(ctx, token); err == nil {
			return sub, nil
		}
	}
	return "", ErrInvalidToken
}
