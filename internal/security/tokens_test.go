package security

import (
	"errors"
	"testing"
	"time"
)

func TestTokenProvider_IssueAndValidateSession(t *testing.T) {
	p, err := NewTestTokenProvider(time.Hour)
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	md := map[string]any{"full_name": "Ada Teacher", "user_type": "teacher"}

	token, exp, err := p.IssueSession("sub-1", "ada@example.com", md)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if token == "" {
		t.Fatal("token empty")
	}
	if exp.Before(time.Now()) {
		t.Fatal("expires at in the past")
	}

	claims, err := p.ValidateSession(token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if claims.Subject != "sub-1" || claims.Email != "ada@example.com" {
		t.Errorf("claims subject=%q email=%q", claims.Subject, claims.Email)
	}
	if claims.Metadata["full_name"] != "Ada Teacher" {
		t.Errorf("metadata full_name = %v, want Ada Teacher", claims.Metadata["full_name"])
	}
}

func TestTokenProvider_ValidateSessionInvalid(t *testing.T) {
	p, err := NewTestTokenProvider(time.Hour)
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	if _, err := p.ValidateSession("invalid-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateSession invalid token: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_ValidateSessionExpired(t *testing.T) {
	p, err := NewTestTokenProvider(time.Minute)
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, _, err := p.IssueSession("sub-1", "ada@example.com", nil)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	p.nowF = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := p.ValidateSession(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("ValidateSession expired: want ErrExpiredToken, got %v", err)
	}
}

func TestTokenProvider_WrongAudience(t *testing.T) {
	p, err := NewTestTokenProvider(time.Hour)
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, _, err := p.IssueSession("sub-1", "ada@example.com", nil)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	other := NewTokenProvider(p.privateKey, p.publicKey, testIssuer, "other-audience", time.Hour)
	if _, err := other.ValidateSession(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateSession wrong audience: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_ES256DevKey(t *testing.T) {
	signer, pub, err := GenerateDevKey()
	if err != nil {
		t.Fatalf("GenerateDevKey: %v", err)
	}
	if KeyAlg(pub) != "ES256" {
		t.Fatalf("KeyAlg = %q, want ES256", KeyAlg(pub))
	}
	p := NewTokenProvider(signer, pub, "iss", "aud", time.Hour)
	token, _, err := p.IssueSession("sub-2", "bo@example.com", nil)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	claims, err := p.ValidateSession(token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if claims.Subject != "sub-2" {
		t.Errorf("subject = %q, want sub-2", claims.Subject)
	}
}
