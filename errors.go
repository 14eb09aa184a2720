package mfacore

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Engine operations. Callers are expected to
// match them with errors.Is; wrapped variants carry additional context.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountInactive    = errors.New("account inactive")
	ErrAccountExists      = errors.New("account already exists")
	ErrUserNotFound       = errors.New("user not found")

	ErrChallengeInvalid  = errors.New("mfa challenge invalid")
	ErrChallengeExpired  = errors.New("mfa challenge expired")
	ErrChallengeConsumed = errors.New("mfa challenge already used")
	ErrChallengeMissing  = errors.New("no pending mfa challenge")

	ErrQuestionsNotConfigured = errors.New("security questions not configured")
	ErrDeviceNotRegistered    = errors.New("usb device not registered")

	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrTokenInvalid    = errors.New("invalid token")

	ErrRecoveryTokenInvalid = errors.New("recovery token invalid or expired")

	ErrPasswordPolicy = errors.New("password policy violation")
	ErrEngineNotReady = errors.New("engine not initialized")

	ErrStoreUnavailable  = errors.New("backing store unavailable")
	ErrNotifyUnavailable = errors.New("notification delivery failed")
)

// AttemptsRemainingError decorates ErrInvalidCredentials with the number of
// failed tries the account can still absorb before it is blocked. It unwraps
// to ErrInvalidCredentials so existing errors.Is checks keep working.
type AttemptsRemainingError struct {
	Remaining int
}

func (e *AttemptsRemainingError) Error() string {
	return fmt.Sprintf("invalid credentials: %d attempts remaining", e.Remaining)
}

func (e *AttemptsRemainingError) Unwrap() error { return ErrInvalidCredentials }

// RemainingAttempts extracts the remaining-attempt count from a login error.
// The second return is false when the error does not carry one.
func RemainingAttempts(err error) (int, bool) {
	var are *AttemptsRemainingError
	if errors.As(err, &are) {
		return are.Remaining, true
	}
	return 0, false
}
