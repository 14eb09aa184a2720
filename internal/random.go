package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"
)

type SessionID [16]byte

const recoverySecretSize = 32

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) Bytes() []byte {
	return s[:]
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

// NewNumericCode returns a code of exactly the requested number of digits.
// The first digit is never zero, and the value is uniform over the remaining
// range, so a 6-digit code is drawn from [100000, 999999].
func NewNumericCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid code digits")
	}

	low := int64(1)
	for i := 1; i < digits; i++ {
		low *= 10
	}
	span := big.NewInt(low * 9) // [low, low*10)

	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(low+n.Int64(), 10), nil
}

// NewRecoveryToken returns a hex-encoded 32-byte opaque token.
func NewRecoveryToken() (string, error) {
	var secret [recoverySecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(secret[:]), nil
}

// HashToken derives the storage key material for an opaque token. Tokens are
// never persisted in the clear.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

const tempPasswordCharset = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz23456789!#$%&*+-"

// NewTempPassword returns a machine-issued initial password. The charset
// excludes visually ambiguous characters (0/O, 1/l/I).
func NewTempPassword(length int) (string, error) {
	if length < 8 {
		length = 8
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(tempPasswordCharset)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(tempPasswordCharset[n.Int64()])
	}
	return b.String(), nil
}

// NewUsername derives a login name from the holder's given name and first
// surname: first initial, surname, then a random 2-4 digit suffix for
// uniqueness. Both inputs are lowercased and stripped of trailing surnames.
func NewUsername(firstName, surname string) (string, error) {
	first := strings.ToLower(strings.TrimSpace(firstName))
	last := strings.ToLower(strings.TrimSpace(surname))
	if first == "" || last == "" {
		return "", errors.New("empty name component")
	}
	if idx := strings.IndexByte(last, ' '); idx > 0 {
		last = last[:idx]
	}

	n, err := rand.Int(rand.Reader, big.NewInt(9990))
	if err != nil {
		return "", err
	}
	initial, _ := utf8.DecodeRuneInString(first)
	return string(initial) + last + strconv.FormatInt(10+n.Int64(), 10), nil
}
