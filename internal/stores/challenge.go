package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const challengeRecordVersion1 = 1

var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrChallengeExpired  = errors.New("challenge expired")
	ErrChallengeUsed     = errors.New("challenge already used")
	ErrChallengeBackend  = errors.New("challenge backend unavailable")
)

// ChallengeKind discriminates the payload carried by a challenge record.
type ChallengeKind uint8

const (
	KindEmailCode ChallengeKind = iota + 1
	KindSMSCode
	KindQuestions
	KindUSBToken
)

func (k ChallengeKind) String() string {
	switch k {
	case KindEmailCode:
		return "email_code"
	case KindSMSCode:
		return "sms_code"
	case KindQuestions:
		return "questions"
	case KindUSBToken:
		return "usb_token"
	default:
		return "unknown"
	}
}

// QuestionEntry is a sampled security question frozen into a challenge.
// AnswerHash is the hash captured at configuration time, so later answer
// changes do not affect an in-flight challenge.
type QuestionEntry struct {
	ID         string
	Text       string
	AnswerHash string
}

// DeviceEntry is a registered usb device frozen into a challenge.
type DeviceEntry struct {
	ID         string
	Identifier string
	Name       string
	Active     bool
}

// Challenge is the single record shape shared by all four verification kinds.
// Code kinds carry a SHA-256 code hash; questions carry sampled entries; usb
// carries the device snapshot. Used is monotonic: records are claimed, never
// deleted, so a replay is distinguishable from expiry.
type Challenge struct {
	ID        string
	UserID    string
	Kind      ChallengeKind
	Used      bool
	ExpiresAt int64
	CodeHash  [32]byte
	Questions []QuestionEntry
	Devices   []DeviceEntry
}

// ChallengeStore persists challenge records in Redis with a TTL and performs
// atomic single-use claims via WATCH transactions.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewChallengeStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *ChallengeStore {
	if prefix == "" {
		prefix = "mch"
	}
	if now == nil {
		now = time.Now
	}
	return &ChallengeStore{
		redis:  redisClient,
		prefix: prefix,
		now:    now,
	}
}

func (s *ChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

func (s *ChallengeStore) indexKey(userID string, kind ChallengeKind) string {
	return s.prefix + ":latest:" + userID + ":" + kind.String()
}

// Save stores the record and points the per-user latest index at it. The
// index shares the record TTL so it can never outlive its target.
func (s *ChallengeStore) Save(ctx context.Context, record *Challenge, ttl time.Duration) error {
	encoded, err := encodeChallenge(record)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(record.ID), encoded, ttl)
		pipe.Set(ctx, s.indexKey(record.UserID, record.Kind), record.ID, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Get returns the record regardless of its used flag. Expired records yield
// ErrChallengeExpired even when Redis has not evicted them yet.
func (s *ChallengeStore) Get(ctx context.Context, challengeID string) (*Challenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	record, err := decodeChallenge(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() > record.ExpiresAt {
		return nil, ErrChallengeExpired
	}
	return record, nil
}

// LatestForUser resolves the most recently issued challenge of the given kind.
func (s *ChallengeStore) LatestForUser(ctx context.Context, userID string, kind ChallengeKind) (*Challenge, error) {
	id, err := s.redis.Get(ctx, s.indexKey(userID, kind)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return s.Get(ctx, id)
}

// ClaimWithCode flips the used flag if and only if the presented code matches
// the stored hash. A mismatch leaves the record untouched and returns
// (false, nil) so the caller can count it as a plain failure. Replays of an
// already-claimed record return ErrChallengeUsed.
func (s *ChallengeStore) ClaimWithCode(ctx context.Context, challengeID string, codeHash [32]byte) (bool, error) {
	return s.claim(ctx, challengeID, func(record *Challenge) (bool, error) {
		if subtle.ConstantTimeCompare(record.CodeHash[:], codeHash[:]) != 1 {
			return false, nil
		}
		return true, nil
	})
}

// Claim flips the used flag unconditionally. Used by the questions and usb
// flows where the match decision is made by the caller before claiming.
func (s *ChallengeStore) Claim(ctx context.Context, challengeID string) (bool, error) {
	return s.claim(ctx, challengeID, func(*Challenge) (bool, error) {
		return true, nil
	})
}

func (s *ChallengeStore) claim(
	ctx context.Context,
	challengeID string,
	match func(*Challenge) (bool, error),
) (bool, error) {
	const maxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxRetries; i++ {
		var claimed bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeChallenge(data)
			if err != nil {
				return err
			}
			if s.now().Unix() > record.ExpiresAt {
				return ErrChallengeExpired
			}
			if record.Used {
				return ErrChallengeUsed
			}

			ok, err := match(record)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}

			record.Used = true
			updated, err := encodeChallenge(record)
			if err != nil {
				return err
			}

			ttl := time.Unix(record.ExpiresAt, 0).Sub(s.now())
			if ttl <= 0 {
				return ErrChallengeExpired
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			if err == nil {
				claimed = true
			}
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrChallengeNotFound
			}
			if errors.Is(err, ErrChallengeExpired) || errors.Is(err, ErrChallengeUsed) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		return claimed, nil
	}

	return false, ErrChallengeNotFound
}

func encodeChallenge(record *Challenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)
	buf.WriteByte(byte(record.Kind))

	var flags byte
	if record.Used {
		flags |= 0x01
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.ID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.UserID); err != nil {
		return nil, err
	}
	buf.Write(record.CodeHash[:])

	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Questions))); err != nil {
		return nil, err
	}
	for _, q := range record.Questions {
		if err := writeString(&buf, q.ID); err != nil {
			return nil, err
		}
		if err := writeString(&buf, q.Text); err != nil {
			return nil, err
		}
		if err := writeString(&buf, q.AnswerHash); err != nil {
			return nil, err
		}
	}

	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Devices))); err != nil {
		return nil, err
	}
	for _, d := range record.Devices {
		if err := writeString(&buf, d.ID); err != nil {
			return nil, err
		}
		if err := writeString(&buf, d.Identifier); err != nil {
			return nil, err
		}
		if err := writeString(&buf, d.Name); err != nil {
			return nil, err
		}
		if d.Active {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid challenge record version")
	}

	kind, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &Challenge{
		Kind: ChallengeKind(kind),
		Used: flags&0x01 != 0,
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if record.ID, err = readString(reader); err != nil {
		return nil, err
	}
	if record.UserID, err = readString(reader); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	var questionCount uint16
	if err := binary.Read(reader, binary.BigEndian, &questionCount); err != nil {
		return nil, err
	}
	for i := uint16(0); i < questionCount; i++ {
		var q QuestionEntry
		if q.ID, err = readString(reader); err != nil {
			return nil, err
		}
		if q.Text, err = readString(reader); err != nil {
			return nil, err
		}
		if q.AnswerHash, err = readString(reader); err != nil {
			return nil, err
		}
		record.Questions = append(record.Questions, q)
	}

	var deviceCount uint16
	if err := binary.Read(reader, binary.BigEndian, &deviceCount); err != nil {
		return nil, err
	}
	for i := uint16(0); i < deviceCount; i++ {
		var d DeviceEntry
		if d.ID, err = readString(reader); err != nil {
			return nil, err
		}
		if d.Identifier, err = readString(reader); err != nil {
			return nil, err
		}
		if d.Name, err = readString(reader); err != nil {
			return nil, err
		}
		active, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		d.Active = active == 1
		record.Devices = append(record.Devices, d)
	}

	return record, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("challenge field length exceeded")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
