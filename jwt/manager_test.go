package jwt

import (
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func newTestManager(t *testing.T, now func() time.Time) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessTTL:     time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "mfacore-test",
		Now:           now,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestCreateAndParse(t *testing.T) {
	m := newTestManager(t, nil)

	token, err := m.Create("u-1", "jdoe42", "jdoe@example.com", "s-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	claims, err := m.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UID != "u-1" || claims.SID != "s-1" || claims.Username != "jdoe42" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	current := time.Now()
	m := newTestManager(t, func() time.Time { return current })

	token, err := m.Create("u-1", "jdoe42", "", "s-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	current = current.Add(2 * time.Hour)
	if _, err := m.Parse(token); !errors.Is(err, jwtlib.ErrTokenExpired) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	m := newTestManager(t, nil)

	token, err := m.Create("u-1", "jdoe42", "", "s-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	other := newTestManager(t, nil)
	other.config.PrivateKey = []byte("ffffffffffffffffffffffffffffffff")
	if _, err := other.Parse(token); err == nil {
		t.Fatal("expected signature verification failure")
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: []byte("k")}); err == nil {
		t.Fatal("expected error for zero TTL")
	}
	if _, err := NewManager(Config{AccessTTL: time.Hour, SigningMethod: MethodHS256}); err == nil {
		t.Fatal("expected error for missing key")
	}
	if _, err := NewManager(Config{AccessTTL: time.Hour, SigningMethod: "rs256", PrivateKey: []byte("k")}); err == nil {
		t.Fatal("expected error for unsupported method")
	}
}
