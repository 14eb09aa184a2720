package mfacore

import (
	"io"
	"time"

	internalaudit "github.com/nvrivera/mfacore/internal/audit"
	"github.com/nvrivera/mfacore/internal/stores"
)

// ChallengeKind names a second-factor verification method.
type ChallengeKind = stores.ChallengeKind

const (
	KindEmailCode = stores.KindEmailCode
	KindSMSCode   = stores.KindSMSCode
	KindQuestions = stores.KindQuestions
	KindUSBToken  = stores.KindUSBToken
)

// Account is the public view of a stored user. Password and answer hashes
// never leave the engine.
type Account struct {
	ID        string
	Username  string
	Email     string
	Phone     string
	FirstName string
	LastName  string
	Active    bool
	CreatedAt time.Time
}

// RegisterInput is the input for [Engine.Register]. Username and the initial
// password are machine-issued, not caller-supplied.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// RegisterResult is returned by [Engine.Register]. The generated initial
// password is delivered through the mailer, never through the API.
type RegisterResult struct {
	UserID   string
	Username string
}

// LoginResult is returned by [Engine.Login] after the password factor
// succeeds. No credential is issued yet; the caller must complete one of the
// listed verification methods.
type LoginResult struct {
	UserID string
	// AvailableMethods lists the verification kinds this account can use,
	// derived from its configuration (phone on file, answers configured,
	// active usb device).
	AvailableMethods []string
}

// AuthResult is returned when a second factor validates. Token is the signed
// session credential; SessionID identifies the server-side row it is bound to.
type AuthResult struct {
	UserID    string
	Username  string
	SessionID string
	Token     string
	ExpiresAt time.Time
}

// ChallengeInfo describes an issued challenge. The secret (code) travels by
// mailer or SMS only.
type ChallengeInfo struct {
	ID        string
	Kind      ChallengeKind
	ExpiresAt time.Time
}

// QuestionPrompt is one question to present to the user. Answer material is
// never included.
type QuestionPrompt struct {
	ID   string
	Text string
}

// QuestionChallenge is returned by [Engine.RequestQuestions].
type QuestionChallenge struct {
	ID        string
	ExpiresAt time.Time
	Questions []QuestionPrompt
}

// QuestionAnswer pairs a question with its answer for configuration.
type QuestionAnswer struct {
	Question string
	Answer   string
}

// AnswerInput is one presented answer during validation.
type AnswerInput struct {
	QuestionID string
	Answer     string
}

// Device is the public view of a registered usb token.
type Device struct {
	ID         string
	Identifier string
	Name       string
	Active     bool
	CreatedAt  time.Time
}

// SessionInfo is returned by [Engine.ValidateSession].
type SessionInfo struct {
	SessionID  string
	UserID     string
	Username   string
	Origin     string
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
