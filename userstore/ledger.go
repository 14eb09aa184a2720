package userstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/nvrivera/mfacore/internal"
)

// AttemptOutcome summarizes the ledger state after recording an attempt.
type AttemptOutcome struct {
	FailCount int
	Remaining int
	Blocked   bool
}

// Ledger tracks consecutive credential failures per account. The count is
// derived from the newest row, rows are append-only for failures, and hitting
// the threshold deactivates the account in the same transaction that records
// the attempt. All mutations for one user are serialized through a striped
// lock, so racing logins cannot each observe the same prior count.
type Ledger struct {
	db        *gorm.DB
	locks     *internal.KeyedMutex
	threshold int
	now       func() time.Time
}

func NewLedger(db *gorm.DB, threshold int, now func() time.Time) *Ledger {
	if threshold <= 0 {
		threshold = 4
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		db:        db,
		locks:     internal.NewKeyedMutex(128),
		threshold: threshold,
		now:       now,
	}
}

// Threshold returns the failure count at which an account is blocked.
func (l *Ledger) Threshold() int { return l.threshold }

// FailCount returns the consecutive-failure count as of the newest row.
func (l *Ledger) FailCount(ctx context.Context, userID string) (int, error) {
	var attempt LoginAttempt
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id desc").
		First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, wrapBackend(err)
	}
	return attempt.FailCount, nil
}

// RecordFailure appends a failure row with an incremented count. When the new
// count reaches the threshold the account is deactivated atomically with the
// insert and Blocked is set.
func (l *Ledger) RecordFailure(ctx context.Context, userID, origin string) (AttemptOutcome, error) {
	l.locks.Lock(userID)
	defer l.locks.Unlock(userID)

	var outcome AttemptOutcome
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest LoginAttempt
		count := 0
		err := tx.Where("user_id = ?", userID).Order("id desc").First(&latest).Error
		if err == nil {
			count = latest.FailCount
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		count++
		attempt := LoginAttempt{
			UserID:    userID,
			FailCount: count,
			Success:   false,
			Origin:    origin,
			CreatedAt: l.now(),
		}
		if err := tx.Create(&attempt).Error; err != nil {
			return err
		}

		outcome.FailCount = count
		outcome.Remaining = l.threshold - count
		if outcome.Remaining < 0 {
			outcome.Remaining = 0
		}

		if count >= l.threshold {
			outcome.Blocked = true
			return tx.Model(&User{}).Where("id = ?", userID).Update("active", false).Error
		}
		return nil
	})
	if err != nil {
		return AttemptOutcome{}, wrapBackend(err)
	}
	return outcome, nil
}

// RecordSuccess appends a zero-count success row and prunes the failure rows,
// resetting the streak.
func (l *Ledger) RecordSuccess(ctx context.Context, userID, origin string) error {
	l.locks.Lock(userID)
	defer l.locks.Unlock(userID)

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempt := LoginAttempt{
			UserID:    userID,
			FailCount: 0,
			Success:   true,
			Origin:    origin,
			CreatedAt: l.now(),
		}
		if err := tx.Create(&attempt).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ? AND success = ?", userID, false).
			Delete(&LoginAttempt{}).Error
	})
	if err != nil {
		return wrapBackend(err)
	}
	return nil
}

// Reset clears the failure streak and reactivates the account. Used by the
// administrative unblock operation.
func (l *Ledger) Reset(ctx context.Context, userID string) error {
	l.locks.Lock(userID)
	defer l.locks.Unlock(userID)

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND success = ?", userID, false).
			Delete(&LoginAttempt{}).Error; err != nil {
			return err
		}
		attempt := LoginAttempt{
			UserID:    userID,
			FailCount: 0,
			Success:   true,
			Origin:    "unblock",
			CreatedAt: l.now(),
		}
		if err := tx.Create(&attempt).Error; err != nil {
			return err
		}
		return tx.Model(&User{}).Where("id = ?", userID).Update("active", true).Error
	})
	if err != nil {
		return wrapBackend(err)
	}
	return nil
}
