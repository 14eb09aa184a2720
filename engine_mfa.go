package mfacore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"
	"github.com/nvrivera/mfacore/internal"
	"github.com/nvrivera/mfacore/internal/stores"
)

// RequestEmailCode issues a fresh email verification code for the user. Any
// earlier email challenge stays in place but is superseded as "latest".
func (e *Engine) RequestEmailCode(ctx context.Context, userID string) (*ChallengeInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return nil, mapUserErr(err)
	}

	challenge, code, err := e.issueCodeChallenge(ctx, user.ID, stores.KindEmailCode)
	if err != nil {
		return nil, err
	}

	body := fmt.Sprintf("Your verification code is %s. It expires in %s.", code, e.config.Challenge.TTL)
	if err := e.mailer.Send(ctx, user.Email, "Verification code", body); err != nil {
		e.metricInc(MetricNotifyFailure)
		e.log.Warn("code mail failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	return challengeInfo(challenge), nil
}

// RequestSMSCode issues a fresh SMS verification code. The account must have
// a phone number on file.
func (e *Engine) RequestSMSCode(ctx context.Context, userID string) (*ChallengeInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return nil, mapUserErr(err)
	}
	if user.Phone == "" {
		return nil, errors.New("no phone number on file")
	}

	challenge, code, err := e.issueCodeChallenge(ctx, user.ID, stores.KindSMSCode)
	if err != nil {
		return nil, err
	}

	body := fmt.Sprintf("Verification code: %s", code)
	if err := e.sms.Send(ctx, user.Phone, body); err != nil {
		e.metricInc(MetricNotifyFailure)
		e.log.Warn("code sms failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	return challengeInfo(challenge), nil
}

// ValidateEmailCode completes login with the latest email code.
func (e *Engine) ValidateEmailCode(ctx context.Context, userID, code, origin string) (*AuthResult, error) {
	return e.validateCode(ctx, userID, stores.KindEmailCode, code, origin)
}

// ValidateSMSCode completes login with the latest SMS code.
func (e *Engine) ValidateSMSCode(ctx context.Context, userID, code, origin string) (*AuthResult, error) {
	return e.validateCode(ctx, userID, stores.KindSMSCode, code, origin)
}

// MFAMethods lists the challenge kinds the user currently has a live
// (unexpired, unclaimed) challenge for.
func (e *Engine) MFAMethods(ctx context.Context, userID string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	kinds := []stores.ChallengeKind{
		stores.KindEmailCode,
		stores.KindSMSCode,
		stores.KindQuestions,
		stores.KindUSBToken,
	}
	var live []string
	for _, kind := range kinds {
		challenge, err := e.challenges.LatestForUser(ctx, userID, kind)
		if err != nil {
			if errors.Is(err, stores.ErrChallengeNotFound) || errors.Is(err, stores.ErrChallengeExpired) {
				continue
			}
			return nil, mapChallengeErr(err)
		}
		if !challenge.Used {
			live = append(live, kind.String())
		}
	}
	return live, nil
}

// issueCodeChallenge creates and stores a numeric-code challenge. The code
// itself is returned to the caller for delivery and never persisted.
func (e *Engine) issueCodeChallenge(ctx context.Context, userID string, kind stores.ChallengeKind) (*stores.Challenge, string, error) {
	code, err := internal.NewNumericCode(e.config.Challenge.CodeDigits)
	if err != nil {
		return nil, "", err
	}

	challenge := &stores.Challenge{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		ExpiresAt: e.now().Add(e.config.Challenge.TTL).Unix(),
		CodeHash:  internal.HashToken(code),
	}
	if err := e.challenges.Save(ctx, challenge, e.config.Challenge.TTL); err != nil {
		return nil, "", mapChallengeErr(err)
	}

	e.metricInc(MetricChallengeIssued)
	e.emitAudit(ctx, auditChallengeIssued, true, userID, "", nil, map[string]string{
		"kind":         kind.String(),
		"challenge_id": challenge.ID,
	})
	return challenge, code, nil
}

func (e *Engine) validateCode(ctx context.Context, userID string, kind stores.ChallengeKind, code, origin string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx = WithOrigin(ctx, origin)

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return nil, mapUserErr(err)
	}
	if !user.Active {
		return nil, ErrAccountInactive
	}

	challenge, err := e.challenges.LatestForUser(ctx, user.ID, kind)
	if err != nil {
		return nil, e.rejectChallenge(ctx, user.ID, kind, mapChallengeErr(err))
	}

	claimed, err := e.challenges.ClaimWithCode(ctx, challenge.ID, internal.HashToken(code))
	if err != nil {
		return nil, e.rejectChallenge(ctx, user.ID, kind, mapChallengeErr(err))
	}
	if !claimed {
		return nil, e.rejectChallenge(ctx, user.ID, kind, ErrChallengeInvalid)
	}

	e.metricInc(MetricChallengeValidated)
	e.emitAudit(ctx, auditChallengeValid, true, user.ID, "", nil, map[string]string{
		"kind":         kind.String(),
		"challenge_id": challenge.ID,
	})
	return e.completeLogin(ctx, user, origin)
}

// rejectChallenge records the failure and returns the public error unchanged.
func (e *Engine) rejectChallenge(ctx context.Context, userID string, kind stores.ChallengeKind, cause error) error {
	if errors.Is(cause, ErrChallengeConsumed) {
		e.metricInc(MetricChallengeReplay)
	} else {
		e.metricInc(MetricChallengeRejected)
	}
	e.emitAudit(ctx, auditChallengeRejected, false, userID, "", cause, map[string]string{
		"kind": kind.String(),
	})
	return cause
}

func challengeInfo(c *stores.Challenge) *ChallengeInfo {
	return &ChallengeInfo{
		ID:        c.ID,
		Kind:      c.Kind,
		ExpiresAt: time.Unix(c.ExpiresAt, 0),
	}
}
