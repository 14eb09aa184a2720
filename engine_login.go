package mfacore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nvrivera/mfacore/session"
	"github.com/nvrivera/mfacore/userstore"
)

// Login verifies the password factor. On success no credential is issued:
// the caller receives the verification methods the account can complete.
// Unknown usernames and wrong passwords are indistinguishable to the caller;
// a blocked account is reported as such only because the holder already
// proved knowledge of the username through the lockout itself.
func (e *Engine) Login(ctx context.Context, username, pass, origin string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx = WithOrigin(ctx, origin)

	user, err := e.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditLoginFailure, false, "", "", ErrInvalidCredentials, map[string]string{
				"username": username,
			})
			return nil, ErrInvalidCredentials
		}
		return nil, mapUserErr(err)
	}

	if !user.Active {
		failCount, err := e.ledger.FailCount(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		blockErr := ErrAccountInactive
		if failCount >= e.ledger.Threshold() {
			blockErr = ErrAccountLocked
			e.metricInc(MetricLoginBlocked)
		}
		e.emitAudit(ctx, auditLoginFailure, false, user.ID, "", blockErr, nil)
		return nil, blockErr
	}

	ok, err := e.hasher.Verify(pass, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		outcome, err := e.ledger.RecordFailure(ctx, user.ID, origin)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.metricInc(MetricLoginFailure)

		if outcome.Blocked {
			e.metricInc(MetricLockout)
			e.emitAudit(ctx, auditAccountBlocked, false, user.ID, "", ErrAccountLocked, map[string]string{
				"fail_count": fmt.Sprint(outcome.FailCount),
			})
			return nil, ErrAccountLocked
		}

		e.emitAudit(ctx, auditLoginFailure, false, user.ID, "", ErrInvalidCredentials, map[string]string{
			"fail_count": fmt.Sprint(outcome.FailCount),
		})
		return nil, &AttemptsRemainingError{Remaining: outcome.Remaining}
	}

	if e.config.Password.UpgradeOnLogin {
		if upgrade, err := e.hasher.NeedsUpgrade(user.PasswordHash); err == nil && upgrade {
			if newHash, err := e.hasher.Hash(pass); err == nil {
				if err := e.users.UpdatePasswordHash(ctx, user.ID, newHash); err != nil {
					e.log.Warn("password upgrade failed", zap.String("user_id", user.ID), zap.Error(err))
				}
			}
		}
	}

	if err := e.ledger.RecordSuccess(ctx, user.ID, origin); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	methods, err := e.availableMethods(ctx, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginFirstFactor)
	e.emitAudit(ctx, auditLoginFirstFactor, true, user.ID, "", nil, nil)

	return &LoginResult{UserID: user.ID, AvailableMethods: methods}, nil
}

func (e *Engine) availableMethods(ctx context.Context, user *userstore.User) ([]string, error) {
	methods := []string{KindEmailCode.String()}

	if user.Phone != "" {
		methods = append(methods, KindSMSCode.String())
	}

	answers, err := e.users.SecurityAnswers(ctx, user.ID)
	if err != nil {
		return nil, mapUserErr(err)
	}
	if len(answers) >= e.config.Challenge.QuestionCount {
		methods = append(methods, KindQuestions.String())
	}

	devices, err := e.users.USBDevices(ctx, user.ID)
	if err != nil {
		return nil, mapUserErr(err)
	}
	for _, d := range devices {
		if d.Active {
			methods = append(methods, KindUSBToken.String())
			break
		}
	}
	return methods, nil
}

// completeLogin opens the session and mints the credential after a second
// factor validated. The previous session, if any, is displaced inside Start.
func (e *Engine) completeLogin(ctx context.Context, user *userstore.User, origin string) (*AuthResult, error) {
	sess, err := e.sessions.Start(ctx, user.ID, origin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	token, err := e.tokens.Create(user.ID, user.Username, user.Email, sess.ID)
	if err != nil {
		_, _ = e.sessions.Close(ctx, sess.ID)
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	e.metricInc(MetricLoginComplete)
	e.emitAudit(ctx, auditLoginComplete, true, user.ID, sess.ID, nil, nil)

	return &AuthResult{
		UserID:    user.ID,
		Username:  user.Username,
		SessionID: sess.ID,
		Token:     token,
		ExpiresAt: e.now().Add(e.config.JWT.AccessTTL),
	}, nil
}

// ValidateSession checks a presented credential end to end: signature,
// owner standing, session liveness, ownership, and expiry. A session whose
// owner has been blocked is closed on sight, even if it has time left.
func (e *Engine) ValidateSession(ctx context.Context, token string) (*SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	user, err := e.users.FindByID(ctx, claims.UID)
	if err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, mapUserErr(err)
	}
	if !user.Active {
		if closed, err := e.sessions.Close(ctx, claims.SID); err == nil && closed {
			e.metricInc(MetricSessionClosed)
		}
		return nil, ErrSessionNotFound
	}

	sess, err := e.sessions.Validate(ctx, claims.SID, claims.UID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrExpired):
			e.metricInc(MetricSessionExpired)
			return nil, ErrSessionExpired
		case errors.Is(err, session.ErrNotFound):
			return nil, ErrSessionNotFound
		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return &SessionInfo{
		SessionID:  sess.ID,
		UserID:     sess.UserID,
		Username:   claims.Username,
		Origin:     sess.Origin,
		CreatedAt:  sess.CreatedAt,
		LastSeenAt: sess.LastSeenAt,
	}, nil
}

// Logout closes the session bound to the credential. Logging out an already
// closed session is not an error.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	closed, err := e.sessions.Close(ctx, claims.SID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if closed {
		e.metricInc(MetricSessionClosed)
		e.emitAudit(ctx, auditLogout, true, claims.UID, claims.SID, nil, nil)
	}
	return nil
}

// ActiveSession returns the user's current live session, if one exists.
func (e *Engine) ActiveSession(ctx context.Context, userID string) (*SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	sess, err := e.sessions.ActiveFor(ctx, userID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &SessionInfo{
		SessionID:  sess.ID,
		UserID:     sess.UserID,
		Origin:     sess.Origin,
		CreatedAt:  sess.CreatedAt,
		LastSeenAt: sess.LastSeenAt,
	}, nil
}
