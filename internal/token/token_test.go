package token

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"
	"time"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService("test-secret", "lab-identity", 5*time.Minute, NewMemoryNonceStore())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func testPrincipal() Principal {
	return Principal{
		ID:     "student-1",
		Name:   "Ada Lovelace",
		Email:  "ada@example.com",
		Plan:   "standard",
		Scope:  ScopeStudent,
		Origin: "https://lms.example.com",
	}
}

func TestGenerateVerify_RoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tok, err := svc.Generate(testPrincipal())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	claims, err := svc.Verify(ctx, tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.ID != "student-1" || claims.Email != "ada@example.com" {
		t.Errorf("claims principal = %+v", claims.Principal)
	}
	if claims.Scope != ScopeStudent {
		t.Errorf("Scope = %q, want student", claims.Scope)
	}
	if claims.Issuer != "lab-identity" {
		t.Errorf("Issuer = %q", claims.Issuer)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt); got != 5*time.Minute {
		t.Errorf("validity window = %v, want 5m", got)
	}
	if len(claims.Nonce) != nonceBytes*2 {
		t.Errorf("nonce length = %d, want %d hex chars", len(claims.Nonce), nonceBytes*2)
	}
}

func TestVerify_Replay(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tok, err := svc.Generate(testPrincipal())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := svc.Verify(ctx, tok); err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	if _, err := svc.Verify(ctx, tok); err != ErrReplay {
		t.Errorf("second Verify: want ErrReplay, got %v", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tok, err := svc.Generate(testPrincipal())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// A valid signature must not rescue an expired token.
	svc.nowF = func() time.Time { return time.Now().Add(6 * time.Minute) }
	if _, err := svc.Verify(ctx, tok); err != ErrExpired {
		t.Errorf("want ErrExpired, got %v", err)
	}
}

func TestVerify_Malformed(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, tok := range []string{"", "nodot", "a.b.c", ".sig", "claims."} {
		if _, err := svc.Verify(ctx, tok); err != ErrMalformed {
			t.Errorf("Verify(%q): want ErrMalformed, got %v", tok, err)
		}
	}
}

func TestVerify_InvalidSignature(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tok, err := svc.Generate(testPrincipal())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	parts := strings.SplitN(tok, ".", 2)

	// Flip one signature byte.
	sig, _ := hex.DecodeString(parts[1])
	sig[0] ^= 0xff
	tampered := parts[0] + "." + hex.EncodeToString(sig)
	if _, err := svc.Verify(ctx, tampered); err != ErrInvalidSignature {
		t.Errorf("tampered signature: want ErrInvalidSignature, got %v", err)
	}

	// Token signed with a different secret.
	other, err := NewService("other-secret", "lab-identity", 5*time.Minute, NewMemoryNonceStore())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	foreign, err := other.Generate(testPrincipal())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := svc.Verify(ctx, foreign); err != ErrInvalidSignature {
		t.Errorf("foreign secret: want ErrInvalidSignature, got %v", err)
	}
}

func TestVerify_CheckOrder(t *testing.T) {
	// An expired, tampered token must report the signature failure first.
	svc := newTestService(t)
	ctx := context.Background()

	tok, err := svc.Generate(testPrincipal())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	parts := strings.SplitN(tok, ".", 2)
	sig, _ := hex.DecodeString(parts[1])
	sig[3] ^= 0x01
	tampered := parts[0] + "." + hex.EncodeToString(sig)

	svc.nowF = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := svc.Verify(ctx, tampered); err != ErrInvalidSignature {
		t.Errorf("want ErrInvalidSignature before ErrExpired, got %v", err)
	}
}

func TestNewService_RequiresSecret(t *testing.T) {
	if _, err := NewService("", "lab-identity", time.Minute, NewMemoryNonceStore()); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestGenerate_FreshNoncePerToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Generate(testPrincipal())
	b, _ := svc.Generate(testPrincipal())
	ca, err := svc.Verify(ctx, a)
	if err != nil {
		t.Fatalf("Verify a: %v", err)
	}
	cb, err := svc.Verify(ctx, b)
	if err != nil {
		t.Fatalf("Verify b: %v", err)
	}
	if ca.Nonce == cb.Nonce {
		t.Error("two tokens share a nonce")
	}
}
