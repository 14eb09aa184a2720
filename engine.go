package mfacore

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	internalaudit "github.com/nvrivera/mfacore/internal/audit"
	"github.com/nvrivera/mfacore/internal/stores"
	"github.com/nvrivera/mfacore/jwt"
	"github.com/nvrivera/mfacore/password"
	"github.com/nvrivera/mfacore/session"
	"github.com/nvrivera/mfacore/userstore"
)

// Engine is the authentication core. Construct it with [New] and a
// [Builder]; the zero value is not usable.
type Engine struct {
	config     Config
	users      *userstore.Store
	ledger     *userstore.Ledger
	sessions   *session.Manager
	challenges *stores.ChallengeStore
	recovery   *stores.RecoveryTokenStore
	hasher     *password.Argon2
	tokens     *jwt.Manager
	audit      *internalaudit.Dispatcher
	metrics    *Metrics
	mailer     Mailer
	sms        SMSSender
	log        *zap.Logger
	now        func() time.Time
}

// Close flushes and stops the audit dispatcher. The engine must not be used
// after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded under buffer
// pressure since startup.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// Metrics exposes the live counter set for exporters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// mapChallengeErr translates store-level challenge errors into the public
// taxonomy.
func mapChallengeErr(err error) error {
	switch {
	case errors.Is(err, stores.ErrChallengeNotFound):
		return ErrChallengeMissing
	case errors.Is(err, stores.ErrChallengeExpired):
		return ErrChallengeExpired
	case errors.Is(err, stores.ErrChallengeUsed):
		return ErrChallengeConsumed
	case errors.Is(err, stores.ErrChallengeBackend):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return err
	}
}

// mapUserErr translates user-store errors. Callers on authentication paths
// usually collapse ErrUserNotFound further to avoid account enumeration.
func mapUserErr(err error) error {
	switch {
	case errors.Is(err, userstore.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, userstore.ErrConflict):
		return ErrAccountExists
	case errors.Is(err, userstore.ErrBackend):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return err
	}
}

func accountView(u *userstore.User) *Account {
	return &Account{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Phone:     u.Phone,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
}
