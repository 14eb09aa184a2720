package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const recoveryRecordVersion1 = 1

var (
	ErrRecoveryNotFound = errors.New("recovery token not found")
	ErrRecoveryExpired  = errors.New("recovery token expired")
	ErrRecoveryUsed     = errors.New("recovery token already used")
	ErrRecoveryBackend  = errors.New("recovery backend unavailable")
)

// RecoveryToken is the stored state behind an opaque password-recovery token.
// Records are keyed by the SHA-256 of the token, so the store never sees the
// secret in the clear.
type RecoveryToken struct {
	UserID    string
	Used      bool
	ExpiresAt int64
}

// RecoveryTokenStore keeps recovery records in Redis. Validate is read-only;
// MarkUsed performs the single-use claim in a WATCH transaction so two
// concurrent resets with the same token cannot both succeed.
type RecoveryTokenStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRecoveryTokenStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *RecoveryTokenStore {
	if prefix == "" {
		prefix = "mrt"
	}
	if now == nil {
		now = time.Now
	}
	return &RecoveryTokenStore{
		redis:  redisClient,
		prefix: prefix,
		now:    now,
	}
}

func (s *RecoveryTokenStore) key(tokenHash [32]byte) string {
	return s.prefix + ":" + hex.EncodeToString(tokenHash[:])
}

func (s *RecoveryTokenStore) userIndexKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Save stores a freshly issued token record and registers it in the holder's
// index set so all outstanding tokens can be invalidated together.
func (s *RecoveryTokenStore) Save(ctx context.Context, tokenHash [32]byte, record *RecoveryToken, ttl time.Duration) error {
	encoded, err := encodeRecoveryToken(record)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(tokenHash), encoded, ttl)
		pipe.SAdd(ctx, s.userIndexKey(record.UserID), hex.EncodeToString(tokenHash[:]))
		pipe.Expire(ctx, s.userIndexKey(record.UserID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRecoveryBackend, err)
	}
	return nil
}

// Validate checks existence, expiry, and the used flag without consuming the
// token. The three failure modes stay distinguishable here; collapsing them
// into one public error is the caller's concern.
func (s *RecoveryTokenStore) Validate(ctx context.Context, tokenHash [32]byte) (*RecoveryToken, error) {
	data, err := s.redis.Get(ctx, s.key(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecoveryNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRecoveryBackend, err)
	}

	record, err := decodeRecoveryToken(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() > record.ExpiresAt {
		return nil, ErrRecoveryExpired
	}
	if record.Used {
		return nil, ErrRecoveryUsed
	}
	return record, nil
}

// MarkUsed atomically claims the token. Exactly one concurrent caller wins;
// the rest observe ErrRecoveryUsed.
func (s *RecoveryTokenStore) MarkUsed(ctx context.Context, tokenHash [32]byte) (*RecoveryToken, error) {
	const maxRetries = 4
	key := s.key(tokenHash)

	for i := 0; i < maxRetries; i++ {
		var claimed *RecoveryToken
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeRecoveryToken(data)
			if err != nil {
				return err
			}
			if s.now().Unix() > record.ExpiresAt {
				return ErrRecoveryExpired
			}
			if record.Used {
				return ErrRecoveryUsed
			}

			record.Used = true
			updated, err := encodeRecoveryToken(record)
			if err != nil {
				return err
			}

			ttl := time.Unix(record.ExpiresAt, 0).Sub(s.now())
			if ttl <= 0 {
				return ErrRecoveryExpired
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			if err == nil {
				claimed = record
			}
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, ErrRecoveryNotFound
			}
			if errors.Is(err, ErrRecoveryExpired) || errors.Is(err, ErrRecoveryUsed) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrRecoveryBackend, err)
		}
		return claimed, nil
	}

	return nil, ErrRecoveryNotFound
}

// InvalidateAllForUser marks every outstanding token for the user as used.
// Called after a successful reset so stale emailed links stop working.
func (s *RecoveryTokenStore) InvalidateAllForUser(ctx context.Context, userID string) error {
	hashes, err := s.redis.SMembers(ctx, s.userIndexKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRecoveryBackend, err)
	}

	for _, h := range hashes {
		raw, err := hex.DecodeString(h)
		if err != nil || len(raw) != 32 {
			continue
		}
		var tokenHash [32]byte
		copy(tokenHash[:], raw)

		if _, err := s.MarkUsed(ctx, tokenHash); err != nil {
			if errors.Is(err, ErrRecoveryNotFound) || errors.Is(err, ErrRecoveryExpired) || errors.Is(err, ErrRecoveryUsed) {
				continue
			}
			return err
		}
	}
	return nil
}

func encodeRecoveryToken(record *RecoveryToken) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(recoveryRecordVersion1)

	var flags byte
	if record.Used {
		flags |= 0x01
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if len(record.UserID) > 65535 {
		return nil, errors.New("recovery user id length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)

	return buf.Bytes(), nil
}

func decodeRecoveryToken(data []byte) (*RecoveryToken, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recoveryRecordVersion1 {
		return nil, errors.New("invalid recovery record version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &RecoveryToken{Used: flags&0x01 != 0}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var userLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userLen); err != nil {
		return nil, err
	}
	user := make([]byte, userLen)
	if _, err := io.ReadFull(reader, user); err != nil {
		return nil, err
	}
	record.UserID = string(user)

	return record, nil
}
