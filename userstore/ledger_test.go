package userstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) (*Store, *Ledger) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	store := NewStore(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store, NewLedger(db, 4, time.Now)
}

func seedUser(t *testing.T, store *Store, id string) {
	t.Helper()
	err := store.Create(context.Background(), &User{
		ID:       id,
		Username: "user-" + id,
		Email:    id + "@example.com",
		Active:   true,
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func TestRecordFailureBlocksAtThreshold(t *testing.T) {
	store, ledger := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "u-1")

	for i := 1; i <= 3; i++ {
		out, err := ledger.RecordFailure(ctx, "u-1", "10.0.0.1")
		if err != nil {
			t.Fatalf("RecordFailure #%d: %v", i, err)
		}
		if out.Blocked {
			t.Fatalf("blocked early at attempt %d", i)
		}
		if out.Remaining != 4-i {
			t.Fatalf("attempt %d remaining = %d, want %d", i, out.Remaining, 4-i)
		}
	}

	out, err := ledger.RecordFailure(ctx, "u-1", "10.0.0.1")
	if err != nil {
		t.Fatalf("RecordFailure #4: %v", err)
	}
	if !out.Blocked || out.Remaining != 0 {
		t.Fatalf("attempt 4 outcome = %+v, want blocked", out)
	}

	user, err := store.FindByID(ctx, "u-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if user.Active {
		t.Fatal("account still active after threshold")
	}
}

func TestRecordSuccessResetsStreak(t *testing.T) {
	store, ledger := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "u-1")

	for i := 0; i < 3; i++ {
		if _, err := ledger.RecordFailure(ctx, "u-1", ""); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if err := ledger.RecordSuccess(ctx, "u-1", ""); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}

	count, err := ledger.FailCount(ctx, "u-1")
	if err != nil {
		t.Fatalf("FailCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("FailCount after success = %d, want 0", count)
	}

	// A new failure streak starts from scratch.
	out, err := ledger.RecordFailure(ctx, "u-1", "")
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if out.FailCount != 1 || out.Remaining != 3 {
		t.Fatalf("post-reset outcome = %+v", out)
	}
}

func TestResetReactivatesAccount(t *testing.T) {
	store, ledger := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "u-1")

	for i := 0; i < 4; i++ {
		if _, err := ledger.RecordFailure(ctx, "u-1", ""); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}
	if err := ledger.Reset(ctx, "u-1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	user, err := store.FindByID(ctx, "u-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if !user.Active {
		t.Fatal("account inactive after reset")
	}

	count, err := ledger.FailCount(ctx, "u-1")
	if err != nil {
		t.Fatalf("FailCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("FailCount after reset = %d, want 0", count)
	}
}

func TestConcurrentFailuresStayLinear(t *testing.T) {
	store, ledger := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "u-1")

	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := ledger.RecordFailure(ctx, "u-1", "")
			done <- err
		}()
	}
	for i := 0; i < 4; i++ {
		if err := <-done; err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}

	count, err := ledger.FailCount(ctx, "u-1")
	if err != nil {
		t.Fatalf("FailCount: %v", err)
	}
	if count != 4 {
		t.Fatalf("FailCount = %d, want 4 (lost update)", count)
	}

	user, err := store.FindByID(ctx, "u-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if user.Active {
		t.Fatal("account still active after concurrent threshold")
	}
}
