package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "customer-1",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestTokenPassesThroughWhenFresh(t *testing.T) {
	source := NewStaticTokenSource(signedToken(t, time.Now().Add(time.Hour)))

	got, err := source.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if got == "" {
		t.Fatal("expected a token")
	}
}

func TestTokenRejectedWhenExpired(t *testing.T) {
	source := NewStaticTokenSource(signedToken(t, time.Now().Add(-time.Minute)))

	_, err := source.Token(context.Background())
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestOpaqueTokenPassesThrough(t *testing.T) {
	source := NewStaticTokenSource("not-a-jwt")

	got, err := source.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if got != "not-a-jwt" {
		t.Fatalf("expected opaque token untouched, got %q", got)
	}
}

func TestEmptyTokenMeansUnauthenticated(t *testing.T) {
	source := NewStaticTokenSource("")

	got, err := source.Token(context.Background())
	if err != nil || got != "" {
		t.Fatalf("expected empty token without error, got %q %v", got, err)
	}
}

func TestSetSwapsToken(t *testing.T) {
	source := NewStaticTokenSource("")
	source.Set("fresh")

	got, _ := source.Token(context.Background())
	if got != "fresh" {
		t.Fatalf("expected swapped token, got %q", got)
	}
}
