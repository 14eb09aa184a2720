package mfacore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nvrivera/mfacore/internal"
	"github.com/nvrivera/mfacore/internal/stores"
	"github.com/nvrivera/mfacore/userstore"
	"go.uber.org/zap"
)

// RequestRecovery issues a single-use password recovery token and mails it
// to the account's address. The call reports success whether or not the
// email maps to an account, so callers cannot probe for registered
// addresses.
func (e *Engine) RequestRecovery(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}

	user, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			e.emitAudit(ctx, auditRecoveryRequested, false, "", "", ErrUserNotFound, map[string]string{
				"email": email,
			})
			return nil
		}
		return mapUserErr(err)
	}

	token, err := internal.NewRecoveryToken()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	record := &stores.RecoveryToken{
		UserID:    user.ID,
		ExpiresAt: e.now().Add(e.config.Recovery.TokenTTL).Unix(),
	}
	if err := e.recovery.Save(ctx, internal.HashToken(token), record, e.config.Recovery.TokenTTL); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	body := fmt.Sprintf(
		"A password reset was requested for %s.\n\nRecovery token: %s\n\nThe token expires in %s and can be used once. If you did not request this, ignore this message.",
		user.Username, token, e.config.Recovery.TokenTTL,
	)
	if err := e.mailer.Send(ctx, user.Email, "Password recovery", body); err != nil {
		e.metricInc(MetricNotifyFailure)
		e.log.Warn("recovery mail delivery failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	e.metricInc(MetricRecoveryRequested)
	e.emitAudit(ctx, auditRecoveryRequested, true, user.ID, "", nil, nil)
	return nil
}

// ValidateRecoveryToken checks a token without consuming it. Expired,
// already-used, and unknown tokens are indistinguishable to the caller.
func (e *Engine) ValidateRecoveryToken(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if _, err := e.recovery.Validate(ctx, internal.HashToken(token)); err != nil {
		if errors.Is(err, stores.ErrRecoveryBackend) {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.metricInc(MetricRecoveryRejected)
		return ErrRecoveryTokenInvalid
	}
	return nil
}

// ResetPassword sets a new password against a recovery token. The token is
// consumed only after the password write lands, so a rejected password or a
// failed write leaves it redeemable; the consume is still an atomic claim,
// so two concurrent resets with the same token retire it exactly once. All
// other outstanding recovery tokens for the account are retired afterwards.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	tokenHash := internal.HashToken(token)
	record, err := e.recovery.Validate(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, stores.ErrRecoveryBackend) {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.metricInc(MetricRecoveryRejected)
		e.emitAudit(ctx, auditPasswordReset, false, "", "", ErrRecoveryTokenInvalid, nil)
		return ErrRecoveryTokenInvalid
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	if err := e.users.UpdatePasswordHash(ctx, record.UserID, hash); err != nil {
		return mapUserErr(err)
	}

	if _, err := e.recovery.MarkUsed(ctx, tokenHash); err != nil {
		if errors.Is(err, stores.ErrRecoveryBackend) {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.metricInc(MetricRecoveryRejected)
		e.emitAudit(ctx, auditPasswordReset, false, record.UserID, "", ErrRecoveryTokenInvalid, nil)
		return ErrRecoveryTokenInvalid
	}

	if err := e.recovery.InvalidateAllForUser(ctx, record.UserID); err != nil {
		e.log.Warn("retiring outstanding recovery tokens failed", zap.String("user_id", record.UserID), zap.Error(err))
	}

	e.metricInc(MetricRecoveryCompleted)
	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, auditPasswordReset, true, record.UserID, "", nil, nil)
	return nil
}
