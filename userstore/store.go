package userstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("user not found")
	ErrConflict = errors.New("user already exists")
	ErrBackend  = errors.New("user backend unavailable")
)

// Store wraps the relational user tables. It exposes only the lookups and
// mutations the engine needs; policy lives above it.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the backing tables.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&User{}, &LoginAttempt{}, &SecurityAnswer{}, &USBDevice{})
}

func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Create(ctx context.Context, user *User) error {
	err := s.db.WithContext(ctx).Create(user).Error
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return wrapBackend(err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, wrapBackend(err)
	}
	return &user, nil
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).First(&user, "username = ?", username).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, wrapBackend(err)
	}
	return &user, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).First(&user, "email = ?", email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, wrapBackend(err)
	}
	return &user, nil
}

func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Count(&count).Error
	if err != nil {
		return false, wrapBackend(err)
	}
	return count > 0, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	res := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Update("password_hash", hash)
	if res.Error != nil {
		return wrapBackend(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetActiveState(ctx context.Context, userID string, active bool) error {
	res := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Update("active", active)
	if res.Error != nil {
		return wrapBackend(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceSecurityAnswers swaps the user's configured answer set in one
// transaction, so a half-written set is never observable.
func (s *Store) ReplaceSecurityAnswers(ctx context.Context, userID string, answers []SecurityAnswer) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&SecurityAnswer{}).Error; err != nil {
			return err
		}
		if len(answers) == 0 {
			return nil
		}
		return tx.Create(&answers).Error
	})
	if err != nil {
		return wrapBackend(err)
	}
	return nil
}

func (s *Store) SecurityAnswers(ctx context.Context, userID string) ([]SecurityAnswer, error) {
	var answers []SecurityAnswer
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at asc").
		Find(&answers).Error
	if err != nil {
		return nil, wrapBackend(err)
	}
	return answers, nil
}

func (s *Store) AddUSBDevice(ctx context.Context, device *USBDevice) error {
	if err := s.db.WithContext(ctx).Create(device).Error; err != nil {
		return wrapBackend(err)
	}
	return nil
}

func (s *Store) USBDevices(ctx context.Context, userID string) ([]USBDevice, error) {
	var devices []USBDevice
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at asc").
		Find(&devices).Error
	if err != nil {
		return nil, wrapBackend(err)
	}
	return devices, nil
}

func (s *Store) SetUSBDeviceActive(ctx context.Context, userID, deviceID string, active bool) error {
	res := s.db.WithContext(ctx).Model(&USBDevice{}).
		Where("id = ? AND user_id = ?", deviceID, userID).
		Update("active", active)
	if res.Error != nil {
		return wrapBackend(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func wrapBackend(err error) error {
	return fmt.Errorf("%w: %v", ErrBackend, err)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
