package mfacore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/google/uuid"
	"github.com/nvrivera/mfacore/internal"
	"github.com/nvrivera/mfacore/internal/stores"
	"github.com/nvrivera/mfacore/userstore"
)

// Register creates an inactive account with a generated username and a
// machine-issued initial password. The password and an activation code are
// delivered by mail; the account stays unusable until ActivateAccount claims
// the code.
func (e *Engine) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	if input.Email == "" || input.FirstName == "" || input.LastName == "" {
		return nil, errors.New("first name, last name and email are required")
	}

	if _, err := e.users.FindByEmail(ctx, input.Email); err == nil {
		e.emitAudit(ctx, auditAccountRegistered, false, "", "", ErrAccountExists, nil)
		return nil, ErrAccountExists
	} else if !errors.Is(err, userstore.ErrNotFound) {
		return nil, mapUserErr(err)
	}

	username, err := e.uniqueUsername(ctx, input.FirstName, input.LastName)
	if err != nil {
		return nil, err
	}

	tempPassword, err := internal.NewTempPassword(e.config.Password.TempLength)
	if err != nil {
		return nil, err
	}
	hash, err := e.hasher.Hash(tempPassword)
	if err != nil {
		return nil, err
	}

	user := &userstore.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        input.Email,
		Phone:        strings.TrimSpace(input.Phone),
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		PasswordHash: hash,
		Active:       false,
		CreatedAt:    e.now(),
	}
	if err := e.users.Create(ctx, user); err != nil {
		mapped := mapUserErr(err)
		e.emitAudit(ctx, auditAccountRegistered, false, "", "", mapped, nil)
		return nil, mapped
	}

	challenge, code, err := e.issueCodeChallenge(ctx, user.ID, stores.KindEmailCode)
	if err != nil {
		return nil, err
	}

	body := fmt.Sprintf(
		"Welcome %s.\n\nUsername: %s\nTemporary password: %s\nActivation code: %s\n\nThe code expires in %s.",
		user.FirstName, user.Username, tempPassword, code, e.config.Challenge.TTL,
	)
	if err := e.mailer.Send(ctx, user.Email, "Account created", body); err != nil {
		e.metricInc(MetricNotifyFailure)
		e.log.Warn("registration mail failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	e.metricInc(MetricRegistration)
	e.emitAudit(ctx, auditAccountRegistered, true, user.ID, "", nil, map[string]string{
		"username":     user.Username,
		"challenge_id": challenge.ID,
	})

	return &RegisterResult{UserID: user.ID, Username: user.Username}, nil
}

func (e *Engine) uniqueUsername(ctx context.Context, firstName, lastName string) (string, error) {
	for i := 0; i < 5; i++ {
		candidate, err := internal.NewUsername(firstName, lastName)
		if err != nil {
			return "", err
		}
		exists, err := e.users.UsernameExists(ctx, candidate)
		if err != nil {
			return "", mapUserErr(err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", errors.New("could not derive a unique username")
}

// ActivateAccount claims the activation code issued at registration and
// flips the account active.
func (e *Engine) ActivateAccount(ctx context.Context, username, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	user, err := e.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			return ErrChallengeInvalid
		}
		return mapUserErr(err)
	}
	if user.Active {
		return nil
	}

	challenge, err := e.challenges.LatestForUser(ctx, user.ID, stores.KindEmailCode)
	if err != nil {
		mapped := mapChallengeErr(err)
		e.emitAudit(ctx, auditAccountActivated, false, user.ID, "", mapped, nil)
		return mapped
	}

	claimed, err := e.challenges.ClaimWithCode(ctx, challenge.ID, internal.HashToken(code))
	if err != nil {
		mapped := mapChallengeErr(err)
		e.emitAudit(ctx, auditAccountActivated, false, user.ID, "", mapped, nil)
		return mapped
	}
	if !claimed {
		e.emitAudit(ctx, auditAccountActivated, false, user.ID, "", ErrChallengeInvalid, nil)
		return ErrChallengeInvalid
	}

	if err := e.users.SetActiveState(ctx, user.ID, true); err != nil {
		return mapUserErr(err)
	}

	e.metricInc(MetricActivation)
	e.emitAudit(ctx, auditAccountActivated, true, user.ID, "", nil, nil)
	return nil
}

// UnblockAccount lifts a lockout: the failure streak is cleared and the
// account reactivated. Exposing this safely (admin auth) is the caller's
// responsibility.
func (e *Engine) UnblockAccount(ctx context.Context, username string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	user, err := e.users.FindByUsername(ctx, username)
	if err != nil {
		return mapUserErr(err)
	}

	if err := e.ledger.Reset(ctx, user.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricUnblock)
	e.emitAudit(ctx, auditAccountUnblocked, true, user.ID, "", nil, nil)
	return nil
}

// ChangePassword verifies the current password and installs a new one.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return mapUserErr(err)
	}

	ok, err := e.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		e.emitAudit(ctx, auditPasswordChanged, false, user.ID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return mapUserErr(err)
	}

	// Outstanding recovery tokens predate the new password.
	if err := e.recovery.InvalidateAllForUser(ctx, user.ID); err != nil {
		e.log.Warn("recovery token invalidation failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, auditPasswordChanged, true, user.ID, "", nil, nil)
	return nil
}

// GetAccount returns the public view of an account.
func (e *Engine) GetAccount(ctx context.Context, userID string) (*Account, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return nil, mapUserErr(err)
	}
	return accountView(user), nil
}
