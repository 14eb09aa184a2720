package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) Now() time.Time { return c.current }

func (c *fakeClock) Advance(d time.Duration) { c.current = c.current.Add(d) }

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	clock := &fakeClock{current: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)}
	mgr := NewManager(db, 30*time.Minute, clock.Now)
	if err := mgr.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return mgr, clock
}

func TestStartDisplacesPreviousSession(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	first, err := mgr.Start(ctx, "u-1", "10.0.0.1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	second, err := mgr.Start(ctx, "u-1", "10.0.0.2")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := mgr.Validate(ctx, first.ID, "u-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("displaced session validated: %v", err)
	}
	if _, err := mgr.Validate(ctx, second.ID, "u-1"); err != nil {
		t.Fatalf("new session rejected: %v", err)
	}

	active, err := mgr.ActiveFor(ctx, "u-1")
	if err != nil {
		t.Fatalf("ActiveFor: %v", err)
	}
	if active.ID != second.ID {
		t.Fatalf("active session = %s, want %s", active.ID, second.ID)
	}
}

func TestValidateRejectsWrongOwner(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := mgr.Start(ctx, "u-1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := mgr.Validate(ctx, sess.ID, "u-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong owner, got %v", err)
	}
}

func TestLifetimeExpiryClosesLazily(t *testing.T) {
	mgr, clock := newTestManager(t)
	ctx := context.Background()

	sess, err := mgr.Start(ctx, "u-1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	clock.Advance(29 * time.Minute)
	if _, err := mgr.Validate(ctx, sess.ID, "u-1"); err != nil {
		t.Fatalf("session expired early: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if _, err := mgr.Validate(ctx, sess.ID, "u-1"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	// Once expired it is closed for good, not merely rejected.
	if _, err := mgr.Validate(ctx, sess.ID, "u-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after lazy close, got %v", err)
	}
}

func TestValidationDoesNotExtendLifetime(t *testing.T) {
	mgr, clock := newTestManager(t)
	ctx := context.Background()

	sess, err := mgr.Start(ctx, "u-1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Touch the session well inside the window, then cross the lifetime
	// boundary: the touch must not have reset the clock.
	clock.Advance(20 * time.Minute)
	if _, err := mgr.Validate(ctx, sess.ID, "u-1"); err != nil {
		t.Fatalf("validate at 20m: %v", err)
	}

	clock.Advance(20 * time.Minute)
	if _, err := mgr.Validate(ctx, sess.ID, "u-1"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired 40m after creation, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := mgr.Start(ctx, "u-1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	closed, err := mgr.Close(ctx, sess.ID)
	if err != nil || !closed {
		t.Fatalf("Close = %v, %v", closed, err)
	}
	closed, err = mgr.Close(ctx, sess.ID)
	if err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if closed {
		t.Fatal("second Close reported work done")
	}

	closed, err = mgr.Close(ctx, "nonexistent")
	if err != nil || closed {
		t.Fatalf("Close(nonexistent) = %v, %v", closed, err)
	}
}

func TestActiveForIgnoresExpiredSession(t *testing.T) {
	mgr, clock := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.Start(ctx, "u-1", ""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	clock.Advance(31 * time.Minute)
	if _, err := mgr.ActiveFor(ctx, "u-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired session, got %v", err)
	}
}
