package mfacore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoginReturnsAvailableMethods(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	acc := te.registerActive(t, "Ada", "Lovelace", "ada@example.com", "+15550100")

	res, err := te.engine.Login(ctx, acc.Username, acc.Password, "test")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.UserID != acc.UserID {
		t.Fatalf("user id mismatch: %s vs %s", res.UserID, acc.UserID)
	}

	want := map[string]bool{"email_code": true, "sms_code": true}
	if len(res.AvailableMethods) != len(want) {
		t.Fatalf("methods %v, want email_code and sms_code", res.AvailableMethods)
	}
	for _, m := range res.AvailableMethods {
		if !want[m] {
			t.Fatalf("unexpected method %q", m)
		}
	}
}

func TestUnknownUserLooksLikeWrongPassword(t *testing.T) {
	te := newTestEngine(t)

	_, err := te.engine.Login(context.Background(), "nobody1234", "whatever", "test")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("got %v, want ErrInvalidCredentials", err)
	}
	if _, ok := RemainingAttempts(err); ok {
		t.Fatal("unknown users must not leak an attempt count")
	}
}

func TestLockoutAfterFourFailures(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	acc := te.registerActive(t, "Ada", "Lovelace", "ada@example.com", "")

	for i, wantRemaining := range []int{3, 2, 1} {
		_, err := te.engine.Login(ctx, acc.Username, "wrong-password", "test")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("failure %d: got %v, want ErrInvalidCredentials", i+1, err)
		}
		remaining, ok := RemainingAttempts(err)
		if !ok || remaining != wantRemaining {
			t.Fatalf("failure %d: remaining %d (reported=%v), want %d", i+1, remaining, ok, wantRemaining)
		}
	}

	if _, err := te.engine.Login(ctx, acc.Username, "wrong-password", "test"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("fourth failure: got %v, want ErrAccountLocked", err)
	}

	// Knowing the password no longer helps.
	if _, err := te.engine.Login(ctx, acc.Username, acc.Password, "test"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("locked account with correct password: got %v, want ErrAccountLocked", err)
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	acc := te.registerActive(t, "Ada", "Lovelace", "ada@example.com", "")

	for i := 0; i < 3; i++ {
		_, _ = te.engine.Login(ctx, acc.Username, "wrong-password", "test")
	}
	if _, err := te.engine.Login(ctx, acc.Username, acc.Password, "test"); err != nil {
		t.Fatalf("login: %v", err)
	}

	// The streak restarts from zero: three more misses stay short of the
	// threshold.
	for i := 0; i < 3; i++ {
		_, err := te.engine.Login(ctx, acc.Username, "wrong-password", "test")
		if errors.Is(err, ErrAccountLocked) {
			t.Fatalf("failure %d after reset locked the account", i+1)
		}
	}
	if _, err := te.engine.Login(ctx, acc.Username, acc.Password, "test"); err != nil {
		t.Fatalf("login after reset: %v", err)
	}
}

func TestSecondLoginDisplacesSession(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	acc := te.registerActive(t, "Ada", "Lovelace", "ada@example.com", "")

	first := te.passSecondFactor(t, acc.UserID, "laptop")
	second := te.passSecondFactor(t, acc.UserID, "phone")

	if first.SessionID == second.SessionID {
		t.Fatal("sessions should differ")
	}
	if _, err := te.engine.ValidateSession(ctx, first.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("displaced session: got %v, want ErrSessionNotFound", err)
	}
	if _, err := te.engine.ValidateSession(ctx, second.Token); err != nil {
		t.Fatalf("current session: %v", err)
	}

	active, err := te.engine.ActiveSession(ctx, acc.UserID)
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if active.SessionID != second.SessionID {
		t.Fatalf("active session %s, want %s", active.SessionID, second.SessionID)
	}
	if active.Origin != "phone" {
		t.Fatalf("origin %q, want phone", active.Origin)
	}
}

func TestSessionExpiresFromCreation(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	acc := te.registerActive(t, "Ada", "Lovelace", "ada@example.com", "")
	auth := te.passSecondFactor(t, acc.UserID, "test")

	// Activity inside the window does not extend the session.
	te.clock.Advance(20 * time.Minute)
	if _, err := te.engine.ValidateSession(ctx, auth.Token); err != nil {
		t.Fatalf("validate at 20m: %v", err)
	}

	te.clock.Advance(20*time.Minute + time.Second)
	if _, err := te.engine.ValidateSession(ctx, auth.Token); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("got %v, want ErrSessionExpired at 40m from login", err)
	}
	if _, err := te.engine.ValidateSession(ctx, auth.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("revalidate after expiry: got %v, want ErrSessionNotFound", err)
	}
}

func TestBlockedUserLosesSession(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	acc := te.registerActive(t, "Ada", "Lovelace", "ada@example.com", "")
	auth := te.passSecondFactor(t, acc.UserID, "test")

	if _, err := te.engine.ValidateSession(ctx, auth.Token); err != nil {
		t.Fatalf("validate before lockout: %v", err)
	}

	for i := 0; i < 4; i++ {
		_, _ = te.engine.Login(ctx, acc.Username, "wrong-password", "test")
	}
	if _, err := te.engine.Login(ctx, acc.Username, acc.Password, "test"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("account not locked: %v", err)
	}

	// The session opened before the lockout is dead, not merely dormant:
	// it stays closed even after the account is unblocked.
	if _, err := te.engine.ValidateSession(ctx, auth.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("blocked user's session: got %v, want ErrSessionNotFound", err)
	}
	if err := te.engine.UnblockAccount(ctx, acc.Username); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if _, err := te.engine.ValidateSession(ctx, auth.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session after unblock: got %v, want ErrSessionNotFound", err)
	}
}

func TestLogout(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	acc := te.registerActive(t, "Ada", "Lovelace", "ada@example.com", "")
	auth := te.passSecondFactor(t, acc.UserID, "test")

	if err := te.engine.Logout(ctx, auth.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := te.engine.ValidateSession(ctx, auth.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("got %v, want ErrSessionNotFound", err)
	}
	// Repeating the logout is not an error.
	if err := te.engine.Logout(ctx, auth.Token); err != nil {
		t.Fatalf("second logout: %v", err)
	}

	if err := te.engine.Logout(ctx, "garbage"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("got %v, want ErrTokenInvalid", err)
	}
}
