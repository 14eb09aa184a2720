package mfacore

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	internalaudit "github.com/nvrivera/mfacore/internal/audit"
	"github.com/nvrivera/mfacore/internal/stores"
	"github.com/nvrivera/mfacore/jwt"
	"github.com/nvrivera/mfacore/password"
	"github.com/nvrivera/mfacore/session"
	"github.com/nvrivera/mfacore/userstore"
)

// Builder assembles an [Engine]. Redis backs the volatile single-use records
// (challenges, recovery tokens); the relational database holds accounts,
// the attempt ledger, sessions, and the audit trail.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	db     *gorm.DB

	mailer    Mailer
	sms       SMSSender
	auditSink AuditSink
	logger    *zap.Logger
	clock     func() time.Time

	built bool
}

func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithDB(db *gorm.DB) *Builder {
	b.db = db
	return b
}

func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithSMSSender(s SMSSender) *Builder {
	b.sms = s
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.logger = log
	return b
}

// WithClock overrides the engine's time source. Tests use it to drive expiry
// without sleeping.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, runs migrations, and returns a ready
// engine. A builder can build once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	fillConfigDefaults(&b.config)
	if err := b.config.validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.db == nil {
		return nil, errors.New("database handle required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	mailer := b.mailer
	if mailer == nil {
		mailer = NewLogMailer(logger)
	}
	smsSender := b.sms
	if smsSender == nil {
		smsSender = NewLogSMSSender(logger)
	}

	hasher, err := password.NewArgon2(password.Config{
		Memory:      b.config.Password.Memory,
		Time:        b.config.Password.Time,
		Parallelism: b.config.Password.Parallelism,
		SaltLength:  b.config.Password.SaltLength,
		KeyLength:   b.config.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     b.config.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(b.config.JWT.SigningMethod),
		PrivateKey:    b.config.JWT.PrivateKey,
		PublicKey:     b.config.JWT.PublicKey,
		Issuer:        b.config.JWT.Issuer,
		Leeway:        b.config.JWT.Leeway,
		Now:           clock,
	})
	if err != nil {
		return nil, err
	}

	users := userstore.NewStore(b.db)
	if err := users.Migrate(); err != nil {
		return nil, err
	}
	sessions := session.NewManager(b.db, b.config.Session.Lifetime, clock)
	if err := sessions.Migrate(); err != nil {
		return nil, err
	}

	sink := b.buildAuditSink()
	dispatcher := internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    b.config.Audit.Enabled,
		BufferSize: b.config.Audit.BufferSize,
		DropIfFull: b.config.Audit.DropIfFull,
	}, sink)

	engine := &Engine{
		config:     b.config,
		users:      users,
		ledger:     userstore.NewLedger(b.db, b.config.Lockout.MaxAttempts, clock),
		sessions:   sessions,
		challenges: stores.NewChallengeStore(b.redis, b.config.Challenge.RedisPrefix, clock),
		recovery:   stores.NewRecoveryTokenStore(b.redis, b.config.Recovery.RedisPrefix, clock),
		hasher:     hasher,
		tokens:     tokens,
		audit:      dispatcher,
		metrics:    NewMetrics(b.config.Metrics),
		mailer:     mailer,
		sms:        smsSender,
		log:        logger,
		now:        clock,
	}
	return engine, nil
}

func (b *Builder) buildAuditSink() internalaudit.Sink {
	var sinks []internalaudit.Sink
	if b.auditSink != nil {
		sinks = append(sinks, b.auditSink)
	}
	if b.config.Audit.PersistToDB && b.db != nil {
		if err := b.db.AutoMigrate(&internalaudit.Record{}); err == nil {
			sinks = append(sinks, internalaudit.NewDBSink(b.db))
		}
	}
	switch len(sinks) {
	case 0:
		return internalaudit.NoOpSink{}
	case 1:
		return sinks[0]
	default:
		return internalaudit.NewFanOutSink(sinks...)
	}
}
