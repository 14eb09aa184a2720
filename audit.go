package mfacore

import (
	"context"
	"errors"

	internalaudit "github.com/nvrivera/mfacore/internal/audit"
)

const (
	auditAccountRegistered = "account_registered"
	auditAccountActivated  = "account_activated"
	auditAccountBlocked    = "account_blocked"
	auditAccountUnblocked  = "account_unblocked"
	auditLoginFirstFactor  = "login_first_factor"
	auditLoginFailure      = "login_failure"
	auditLoginComplete     = "login_complete"
	auditLogout            = "logout"
	auditChallengeIssued   = "challenge_issued"
	auditChallengeValid    = "challenge_validated"
	auditChallengeRejected = "challenge_rejected"
	auditQuestionsSet      = "questions_configured"
	auditDeviceRegistered  = "usb_device_registered"
	auditDeviceStateSet    = "usb_device_state_changed"
	auditRecoveryRequested = "recovery_requested"
	auditPasswordReset     = "password_reset"
	auditPasswordChanged   = "password_changed"
)

// emitAudit forwards one event to the dispatcher. userID may be empty when
// the operation never resolved an account. Failures to audit never propagate.
func (e *Engine) emitAudit(
	ctx context.Context,
	action string,
	success bool,
	userID string,
	sessionID string,
	opErr error,
	metadata map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := internalaudit.Event{
		Timestamp: e.now(),
		Action:    action,
		UserID:    userID,
		SessionID: sessionID,
		IP:        originFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if opErr != nil {
		event.Reason = auditReason(opErr)
	}

	e.audit.Emit(ctx, event)
}

// auditReason maps an operation error to a stable reason string. Unknown
// errors collapse to "internal" so backend details never reach the trail.
func auditReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrAccountInactive):
		return "account_inactive"
	case errors.Is(err, ErrAccountExists):
		return "account_exists"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrChallengeConsumed):
		return "challenge_used"
	case errors.Is(err, ErrChallengeExpired):
		return "challenge_expired"
	case errors.Is(err, ErrChallengeMissing):
		return "challenge_missing"
	case errors.Is(err, ErrChallengeInvalid):
		return "challenge_invalid"
	case errors.Is(err, ErrQuestionsNotConfigured):
		return "questions_not_configured"
	case errors.Is(err, ErrDeviceNotRegistered):
		return "device_not_registered"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, ErrRecoveryTokenInvalid):
		return "recovery_token_invalid"
	case errors.Is(err, ErrPasswordPolicy):
		return "password_policy"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrNotifyUnavailable):
		return "notify_unavailable"
	default:
		return "internal"
	}
}
