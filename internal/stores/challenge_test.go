package stores

import (
	"context"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChallengeStore(t *testing.T) (*ChallengeStore, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	current := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	store := NewChallengeStore(client, "mch", func() time.Time { return current })
	return store, &current
}

func TestChallengeRoundTrip(t *testing.T) {
	store, now := newChallengeStore(t)
	ctx := context.Background()

	record := &Challenge{
		ID:        "ch-1",
		UserID:    "user-1",
		Kind:      KindQuestions,
		ExpiresAt: now.Add(5 * time.Minute).Unix(),
		CodeHash:  sha256.Sum256([]byte("123456")),
		Questions: []QuestionEntry{
			{ID: "q-1", Text: "First pet's name?", AnswerHash: "$argon2id$..."},
			{ID: "q-2", Text: "City of birth?", AnswerHash: "$argon2id$..."},
		},
		Devices: []DeviceEntry{
			{ID: "d-1", Identifier: "serial-1", Name: "desk key", Active: true},
		},
	}
	require.NoError(t, store.Save(ctx, record, 5*time.Minute))

	got, err := store.Get(ctx, "ch-1")
	require.NoError(t, err)
	assert.Equal(t, record, got)

	latest, err := store.LatestForUser(ctx, "user-1", KindQuestions)
	require.NoError(t, err)
	assert.Equal(t, "ch-1", latest.ID)
}

func TestLatestFollowsNewestRecord(t *testing.T) {
	store, now := newChallengeStore(t)
	ctx := context.Background()

	for _, id := range []string{"ch-1", "ch-2"} {
		require.NoError(t, store.Save(ctx, &Challenge{
			ID:        id,
			UserID:    "user-1",
			Kind:      KindEmailCode,
			ExpiresAt: now.Add(5 * time.Minute).Unix(),
		}, 5*time.Minute))
	}

	latest, err := store.LatestForUser(ctx, "user-1", KindEmailCode)
	require.NoError(t, err)
	assert.Equal(t, "ch-2", latest.ID)
}

func TestGetUnknownChallenge(t *testing.T) {
	store, _ := newChallengeStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestGetReportsExpiryBeforeEviction(t *testing.T) {
	store, now := newChallengeStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Challenge{
		ID:        "ch-1",
		UserID:    "user-1",
		Kind:      KindEmailCode,
		ExpiresAt: now.Add(5 * time.Minute).Unix(),
	}, 5*time.Minute))

	// Advance the store clock without touching Redis: the record is still
	// present but must read as expired.
	*now = now.Add(6 * time.Minute)
	_, err := store.Get(ctx, "ch-1")
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestClaimWithCode(t *testing.T) {
	store, now := newChallengeStore(t)
	ctx := context.Background()
	codeHash := sha256.Sum256([]byte("123456"))

	require.NoError(t, store.Save(ctx, &Challenge{
		ID:        "ch-1",
		UserID:    "user-1",
		Kind:      KindEmailCode,
		ExpiresAt: now.Add(5 * time.Minute).Unix(),
		CodeHash:  codeHash,
	}, 5*time.Minute))

	// A wrong code neither claims nor errors.
	claimed, err := store.ClaimWithCode(ctx, "ch-1", sha256.Sum256([]byte("000000")))
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := store.Get(ctx, "ch-1")
	require.NoError(t, err)
	assert.False(t, got.Used)

	claimed, err = store.ClaimWithCode(ctx, "ch-1", codeHash)
	require.NoError(t, err)
	assert.True(t, claimed)

	// The record stays behind, marked used, so replays are identifiable.
	_, err = store.ClaimWithCode(ctx, "ch-1", codeHash)
	assert.ErrorIs(t, err, ErrChallengeUsed)
}

func TestClaimIsSingleUseUnderConcurrency(t *testing.T) {
	store, now := newChallengeStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Challenge{
		ID:        "ch-1",
		UserID:    "user-1",
		Kind:      KindUSBToken,
		ExpiresAt: now.Add(5 * time.Minute).Unix(),
		Devices:   []DeviceEntry{{ID: "d-1", Identifier: "serial-1", Active: true}},
	}, 5*time.Minute))

	const attempts = 8
	var wg sync.WaitGroup
	wins := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.Claim(ctx, "ch-1")
			wins <- err == nil && claimed
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}
