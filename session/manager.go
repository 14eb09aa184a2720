package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/nvrivera/mfacore/internal"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrExpired  = errors.New("session expired")
	ErrBackend  = errors.New("session backend unavailable")
)

// Manager enforces the single-active-session rule over the sessions table.
// A session is valid for a fixed lifetime counted from creation; activity
// does not extend it. Expiry is lazy: nothing sweeps expired sessions, they
// are closed by the first validation that finds them past the lifetime.
type Manager struct {
	db       *gorm.DB
	locks    *internal.KeyedMutex
	lifetime time.Duration
	now      func() time.Time
}

func NewManager(db *gorm.DB, lifetime time.Duration, now func() time.Time) *Manager {
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{
		db:       db,
		locks:    internal.NewKeyedMutex(128),
		lifetime: lifetime,
		now:      now,
	}
}

// Migrate creates or updates the sessions table.
func (m *Manager) Migrate() error {
	return m.db.AutoMigrate(&Session{})
}

// Start closes any session the user still has open and opens a fresh one.
// Close-then-open runs under the user's stripe lock so two concurrent logins
// cannot both end up with a live session.
func (m *Manager) Start(ctx context.Context, userID, origin string) (*Session, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}

	m.locks.Lock(userID)
	defer m.locks.Unlock(userID)

	now := m.now()
	sess := &Session{
		ID:         sid.String(),
		UserID:     userID,
		Origin:     origin,
		Active:     true,
		CreatedAt:  now,
		LastSeenAt: now,
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Session{}).
			Where("user_id = ? AND active = ?", userID, true).
			Updates(map[string]interface{}{"active": false, "closed_at": now}).Error; err != nil {
			return err
		}
		return tx.Create(sess).Error
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return sess, nil
}

// Validate confirms the session exists, belongs to userID, is still active,
// and is within its lifetime, measured from creation. A session past the
// lifetime is closed here and reported as expired. The last-seen timestamp
// is advanced on success, purely as a record; it never extends the session.
func (m *Manager) Validate(ctx context.Context, sessionID, userID string) (*Session, error) {
	var sess Session
	err := m.db.WithContext(ctx).First(&sess, "id = ?", sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	if sess.UserID != userID || !sess.Active {
		return nil, ErrNotFound
	}

	now := m.now()
	if now.Sub(sess.CreatedAt) > m.lifetime {
		_, _ = m.Close(ctx, sessionID)
		return nil, ErrExpired
	}

	sess.LastSeenAt = now
	err = m.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", sessionID).
		Update("last_seen_at", now).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return &sess, nil
}

// Close marks the session inactive. Closing an already-closed or unknown
// session is not an error; the bool reports whether this call closed it.
func (m *Manager) Close(ctx context.Context, sessionID string) (bool, error) {
	res := m.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND active = ?", sessionID, true).
		Updates(map[string]interface{}{"active": false, "closed_at": m.now()})
	if res.Error != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ActiveFor returns the user's current active session, or ErrNotFound.
// A session past its lifetime is not reported as active.
func (m *Manager) ActiveFor(ctx context.Context, userID string) (*Session, error) {
	var sess Session
	err := m.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Order("created_at desc").
		First(&sess).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	if m.now().Sub(sess.CreatedAt) > m.lifetime {
		_, _ = m.Close(ctx, sess.ID)
		return nil, ErrNotFound
	}
	return &sess, nil
}
