package mfacore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nvrivera/mfacore/internal/stores"
	"github.com/nvrivera/mfacore/userstore"
)

// ConfigureQuestions replaces the user's security question set. Answers are
// normalized (trimmed, lowercased) and hashed before storage; the plaintext
// is gone once this returns.
func (e *Engine) ConfigureQuestions(ctx context.Context, userID string, pairs []QuestionAnswer) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if len(pairs) < e.config.Challenge.QuestionCount {
		return fmt.Errorf("at least %d question/answer pairs required", e.config.Challenge.QuestionCount)
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return mapUserErr(err)
	}

	now := e.now()
	answers := make([]userstore.SecurityAnswer, 0, len(pairs))
	for i, pair := range pairs {
		question := strings.TrimSpace(pair.Question)
		if question == "" {
			return errors.New("empty question text")
		}
		hash, err := e.hasher.HashAnswer(pair.Answer)
		if err != nil {
			return fmt.Errorf("question %d: %w", i+1, err)
		}
		answers = append(answers, userstore.SecurityAnswer{
			ID:           uuid.NewString(),
			UserID:       user.ID,
			QuestionID:   uuid.NewString(),
			QuestionText: question,
			AnswerHash:   hash,
			// Staggered timestamps keep the configured order stable.
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		})
	}

	if err := e.users.ReplaceSecurityAnswers(ctx, user.ID, answers); err != nil {
		return mapUserErr(err)
	}

	e.emitAudit(ctx, auditQuestionsSet, true, user.ID, "", nil, map[string]string{
		"count": fmt.Sprint(len(answers)),
	})
	return nil
}

// RequestQuestions samples the configured question pool and issues a
// challenge carrying the picked questions. The answer hashes are frozen into
// the challenge, so reconfiguring answers mid-flight does not change what
// this challenge accepts.
func (e *Engine) RequestQuestions(ctx context.Context, userID string) (*QuestionChallenge, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return nil, mapUserErr(err)
	}

	configured, err := e.users.SecurityAnswers(ctx, user.ID)
	if err != nil {
		return nil, mapUserErr(err)
	}
	if len(configured) == 0 {
		return nil, ErrQuestionsNotConfigured
	}

	picked, err := sampleAnswers(configured, e.config.Challenge.QuestionCount)
	if err != nil {
		return nil, err
	}

	entries := make([]stores.QuestionEntry, 0, len(picked))
	prompts := make([]QuestionPrompt, 0, len(picked))
	for _, ans := range picked {
		entries = append(entries, stores.QuestionEntry{
			ID:         ans.QuestionID,
			Text:       ans.QuestionText,
			AnswerHash: ans.AnswerHash,
		})
		prompts = append(prompts, QuestionPrompt{ID: ans.QuestionID, Text: ans.QuestionText})
	}

	challenge := &stores.Challenge{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Kind:      stores.KindQuestions,
		ExpiresAt: e.now().Add(e.config.Challenge.TTL).Unix(),
		Questions: entries,
	}
	if err := e.challenges.Save(ctx, challenge, e.config.Challenge.TTL); err != nil {
		return nil, mapChallengeErr(err)
	}

	e.metricInc(MetricChallengeIssued)
	e.emitAudit(ctx, auditChallengeIssued, true, user.ID, "", nil, map[string]string{
		"kind":         stores.KindQuestions.String(),
		"challenge_id": challenge.ID,
	})

	return &QuestionChallenge{
		ID:        challenge.ID,
		ExpiresAt: time.Unix(challenge.ExpiresAt, 0),
		Questions: prompts,
	}, nil
}

// ValidateAnswers completes login with the latest questions challenge. Every
// sampled question must be answered correctly; a single miss rejects the
// whole attempt and leaves the challenge unclaimed.
func (e *Engine) ValidateAnswers(ctx context.Context, userID string, answers []AnswerInput, origin string) (*AuthResult, error) {
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

	challenge, err := e.challenges.LatestForUser(ctx, user.ID, stores.KindQuestions)
	if err != nil {
		return nil, e.rejectChallenge(ctx, user.ID, stores.KindQuestions, mapChallengeErr(err))
	}
	if challenge.Used {
		return nil, e.rejectChallenge(ctx, user.ID, stores.KindQuestions, ErrChallengeConsumed)
	}

	presented := make(map[string]string, len(answers))
	for _, a := range answers {
		presented[a.QuestionID] = a.Answer
	}

	for _, entry := range challenge.Questions {
		answer, ok := presented[entry.ID]
		if !ok {
			return nil, e.rejectChallenge(ctx, user.ID, stores.KindQuestions, ErrChallengeInvalid)
		}
		match, err := e.hasher.VerifyAnswer(answer, entry.AnswerHash)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if !match {
			return nil, e.rejectChallenge(ctx, user.ID, stores.KindQuestions, ErrChallengeInvalid)
		}
	}

	// All answers matched; claim decides the winner under concurrency.
	claimed, err := e.challenges.Claim(ctx, challenge.ID)
	if err != nil {
		return nil, e.rejectChallenge(ctx, user.ID, stores.KindQuestions, mapChallengeErr(err))
	}
	if !claimed {
		return nil, e.rejectChallenge(ctx, user.ID, stores.KindQuestions, ErrChallengeConsumed)
	}

	e.metricInc(MetricChallengeValidated)
	e.emitAudit(ctx, auditChallengeValid, true, user.ID, "", nil, map[string]string{
		"kind":         stores.KindQuestions.String(),
		"challenge_id": challenge.ID,
	})
	return e.completeLogin(ctx, user, origin)
}

// sampleAnswers picks n distinct entries uniformly via a partial
// Fisher-Yates shuffle. When the pool holds fewer than n entries the whole
// pool is returned.
func sampleAnswers(pool []userstore.SecurityAnswer, n int) ([]userstore.SecurityAnswer, error) {
	if n >= len(pool) {
		out := make([]userstore.SecurityAnswer, len(pool))
		copy(out, pool)
		return out, nil
	}

	shuffled := make([]userstore.SecurityAnswer, len(pool))
	copy(shuffled, pool)
	for i := 0; i < n; i++ {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(len(shuffled)-i)))
		if err != nil {
			return nil, err
		}
		k := i + int(j.Int64())
		shuffled[i], shuffled[k] = shuffled[k], shuffled[i]
	}
	return shuffled[:n], nil
}
