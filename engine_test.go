package mfacore

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

type capturedMessage struct {
	To      string
	Subject string
	Body    string
}

type captureMailer struct {
	mu       sync.Mutex
	messages []capturedMessage
}

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, capturedMessage{To: to, Subject: subject, Body: body})
	return nil
}

func (m *captureMailer) last(t *testing.T) capturedMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		t.Fatal("no mail was sent")
	}
	return m.messages[len(m.messages)-1]
}

type captureSMS struct {
	mu       sync.Mutex
	messages []capturedMessage
}

func (s *captureSMS) Send(_ context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, capturedMessage{To: to, Body: body})
	return nil
}

func (s *captureSMS) last(t *testing.T) capturedMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		t.Fatal("no sms was sent")
	}
	return s.messages[len(s.messages)-1]
}

var (
	tempPasswordRe   = regexp.MustCompile(`Temporary password: (\S+)`)
	activationCodeRe = regexp.MustCompile(`Activation code: (\d+)`)
	mailCodeRe       = regexp.MustCompile(`verification code is (\d+)`)
	smsCodeRe        = regexp.MustCompile(`Verification code: (\d+)`)
	recoveryTokenRe  = regexp.MustCompile(`Recovery token: ([0-9a-f]+)`)
)

func extract(t *testing.T, re *regexp.Regexp, body string) string {
	t.Helper()
	m := re.FindStringSubmatch(body)
	if m == nil {
		t.Fatalf("pattern %q not found in message:\n%s", re, body)
	}
	return m[1]
}

type testEngine struct {
	engine *Engine
	mail   *captureMailer
	sms    *captureSMS
	clock  *fakeClock
	redis  *miniredis.Miniredis
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db, err := gorm.Open(
		sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)},
	)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	clock := &fakeClock{current: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	mail := &captureMailer{}
	sms := &captureSMS{}

	cfg := defaultConfig()
	cfg.JWT.PrivateKey = []byte("unit-test-signing-secret-0123456789")
	// Cheap hashing keeps the suite fast; production parameters are covered
	// in the password package tests.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDB(db).
		WithMailer(mail).
		WithSMSSender(sms).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{engine: engine, mail: mail, sms: sms, clock: clock, redis: mr}
}

type testAccount struct {
	UserID   string
	Username string
	Password string
	Email    string
}

// registerActive runs the full registration flow and activates the account,
// returning the machine-issued credentials extracted from the welcome mail.
func (te *testEngine) registerActive(t *testing.T, first, last, email, phone string) testAccount {
	t.Helper()
	ctx := context.Background()

	res, err := te.engine.Register(ctx, RegisterInput{
		FirstName: first,
		LastName:  last,
		Email:     email,
		Phone:     phone,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	welcome := te.mail.last(t)
	password := extract(t, tempPasswordRe, welcome.Body)
	code := extract(t, activationCodeRe, welcome.Body)

	if err := te.engine.ActivateAccount(ctx, res.Username, code); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return testAccount{UserID: res.UserID, Username: res.Username, Password: password, Email: email}
}

// passSecondFactor finishes a login over the email-code factor.
func (te *testEngine) passSecondFactor(t *testing.T, userID, origin string) *AuthResult {
	t.Helper()
	ctx := context.Background()

	if _, err := te.engine.RequestEmailCode(ctx, userID); err != nil {
		t.Fatalf("request email code: %v", err)
	}
	code := extract(t, mailCodeRe, te.mail.last(t).Body)
	auth, err := te.engine.ValidateEmailCode(ctx, userID, code, origin)
	if err != nil {
		t.Fatalf("validate email code: %v", err)
	}
	return auth
}
