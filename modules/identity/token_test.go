package identity

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestManager() *TokenManager {
	return NewTokenManager(Config{
		SecretKey: "test-secret-key",
		TokenTTL:  15 * time.Minute,
		Issuer:    "test-issuer",
	})
}

func TestTokenManager_IssueAndVerify(t *testing.T) {
	manager := newTestManager()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	token, err := manager.Issue("alice", now)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if token == "" {
		t.Fatal("Issue() returned empty token")
	}

	identity, err := manager.Verify(token, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if identity != "alice" {
		t.Errorf("Verify() identity = %v, want %v", identity, "alice")
	}
}

func TestTokenManager_IssueRequiresIdentity(t *testing.T) {
	if _, err := newTestManager().Issue("", time.Now()); err == nil {
		t.Error("Issue(\"\") error = nil, want error")
	}
}

func TestTokenManager_VerifyRejections(t *testing.T) {
	manager := newTestManager()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	valid, err := manager.Issue("alice", now)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	otherKey, err := NewTokenManager(Config{SecretKey: "other-secret", TokenTTL: time.Hour}).Issue("alice", now)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	wrongAlg, err := hs512.SignedString([]byte("test-secret-key"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		TokenType:        tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	})
	noExpiryToken, err := noExpiry.SignedString([]byte("test-secret-key"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	noSubjectToken, err := noSubject.SignedString([]byte("test-secret-key"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	tests := []struct {
		name       string
		credential string
		at         time.Time
		want       Reason
	}{
		{"empty", "", now, ReasonMissing},
		{"garbage", "not-a-token", now, ReasonMalformed},
		{"two segments", "abc.def", now, ReasonMalformed},
		{"expired", valid, now.Add(16 * time.Minute), ReasonExpired},
		{"not yet valid", valid, now.Add(-time.Hour), ReasonExpired},
		{"wrong key", otherKey, now, ReasonSignatureInvalid},
		{"tampered signature", tampered, now, ReasonSignatureInvalid},
		{"wrong algorithm", wrongAlg, now, ReasonSignatureInvalid},
		{"missing expiry", noExpiryToken, now, ReasonMalformed},
		{"missing subject", noSubjectToken, now, ReasonMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity, err := manager.Verify(tt.credential, tt.at)
			if err == nil {
				t.Fatalf("Verify() = %q, want error", identity)
			}
			if !errors.Is(err, ErrInvalidCredential) {
				t.Errorf("errors.Is(err, ErrInvalidCredential) = false for %v", err)
			}
			if got := ReasonOf(err); got != tt.want {
				t.Errorf("ReasonOf() = %v, want %v (err: %v)", got, tt.want, err)
			}
		})
	}
}

func TestTokenManager_VerifyIsDeterministic(t *testing.T) {
	manager := newTestManager()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	token, err := manager.Issue("bob", now)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	at := now.Add(5 * time.Minute)
	for i := 0; i < 3; i++ {
		identity, err := manager.Verify(token, at)
		if err != nil || identity != "bob" {
			t.Fatalf("Verify() = (%q, %v), want (bob, nil)", identity, err)
		}
	}
}

func TestReasonOf_NonCredentialError(t *testing.T) {
	if got := ReasonOf(errors.New("boom")); got != "" {
		t.Errorf("ReasonOf() = %q, want empty", got)
	}
}
