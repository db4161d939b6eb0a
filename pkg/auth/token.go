// Package auth holds the client side of token handling. The login/OTP flow
// lives in the host app; the engine only attaches an access token it was
// handed and refuses to send one that has already expired.
package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource yields a bearer token for outbound gateway calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ErrTokenExpired is returned when the held token's exp claim has passed.
var ErrTokenExpired = fmt.Errorf("access token expired")

// StaticTokenSource holds a single token supplied by the host app. It can be
// swapped at runtime when the app refreshes its session.
type StaticTokenSource struct {
	mu    sync.RWMutex
	token string
	now   func() time.Time
}

// NewStaticTokenSource wraps the provided token. An empty token is allowed;
// the gateway then sends unauthenticated requests.
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: strings.TrimSpace(token), now: time.Now}
}

// Set replaces the held token.
func (s *StaticTokenSource) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = strings.TrimSpace(token)
}

// Token returns the held token after checking the exp claim. The client has
// no signing secret, so claims are decoded without verification; the backend
// remains the authority on token validity.
func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return "", nil
	}

	expiry, err := tokenExpiry(token)
	if err != nil {
		// Opaque (non-JWT) tokens pass through untouched.
		return token, nil
	}
	if !expiry.IsZero() && s.now().After(expiry) {
		return "", ErrTokenExpired
	}
	return token, nil
}

func tokenExpiry(token string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}
