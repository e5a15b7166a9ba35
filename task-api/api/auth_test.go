package api

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"taskmanager/domain"
)

var testSecret = []byte("test-secret-0123456789")

func signTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   sub,
		"aud":   "api://aud",
		"email": sub + "@example.com",
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
		"nbf":   time.Now().Add(-time.Minute).Unix(),
		"iat":   time.Now().Add(-time.Minute).Unix(),
	}
}

func TestBearerTokenSuccess(t *testing.T) {
	token, err := bearerToken("  Bearer header.payload.signature ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", token)
	}
}

func TestBearerTokenMissing(t *testing.T) {
	if _, err := bearerToken(""); !errors.Is(err, errMissingAuthorization) {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestBearerTokenManyPeriods(t *testing.T) {
	if _, err := bearerToken("Bearer " + strings.Repeat(".", 1000)); !errors.Is(err, errBadAuthorization) {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
	if _, err := bearerToken("Basic a.b.c"); !errors.Is(err, errBadAuthorization) {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func TestSharedTokenMatches(t *testing.T) {
	if !sharedTokenMatches("Bearer trigger-token-123456", "trigger-token-123456") {
		t.Fatalf("expected match")
	}
	if sharedTokenMatches("Bearer wrong", "trigger-token-123456") || sharedTokenMatches("Bearer x", "") {
		t.Fatalf("unexpected match")
	}
}

func TestVerifyHS256(t *testing.T) {
	auth := NewAuth(AuthOptions{TestSecret: testSecret, Audience: "api://aud"})

	p, err := auth.Verify("Bearer " + signTestToken(t, validClaims("user-123")))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if p.Subject != "user-123" || p.Email != "user-123@example.com" {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	auth := NewAuth(AuthOptions{TestSecret: testSecret, Audience: "api://aud"})

	expired := validClaims("u1")
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongAud := validClaims("u1")
	wrongAud["aud"] = "api://other"
	noSub := validClaims("")

	cases := map[string]string{
		"missing":   "",
		"malformed": "Bearer abc",
		"expired":   "Bearer " + signTestToken(t, expired),
		"audience":  "Bearer " + signTestToken(t, wrongAud),
		"subject":   "Bearer " + signTestToken(t, noSub),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := auth.Verify(header)
			var aerr *domain.AuthError
			if !errors.As(err, &aerr) {
				t.Fatalf("expected auth error, got %v", err)
			}
		})
	}
}

func TestVerifyRejectsHS256OutsideTestMode(t *testing.T) {
	auth := NewAuth(AuthOptions{Audience: "api://aud"})
	if _, err := auth.Verify("Bearer " + signTestToken(t, validClaims("u1"))); err == nil {
		t.Fatalf("expected HS256 token to be rejected")
	}
}
