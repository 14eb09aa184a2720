package mfacore

import (
	"errors"
	"time"
)

// Config is the full engine configuration. Zero values are filled from
// defaultConfig by the builder; Build rejects configs that fail validation.
type Config struct {
	JWT       JWTConfig
	Session   SessionConfig
	Password  PasswordConfig
	Lockout   LockoutConfig
	Challenge ChallengeConfig
	Recovery  RecoveryConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default), "ed25519" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

type SessionConfig struct {
	// Lifetime is how long a session stays valid, counted from login.
	// Activity does not extend it; an expired session is closed lazily by
	// the next validation.
	Lifetime time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
	// TempLength is the length of machine-issued initial passwords.
	TempLength int
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

type LockoutConfig struct {
	// MaxAttempts is the consecutive-failure count that deactivates the
	// account. The fourth failure blocks under the default of 4.
	MaxAttempts int
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

type ChallengeConfig struct {
	// TTL bounds every challenge kind, codes and question/usb sets alike.
	TTL           time.Duration
	CodeDigits    int
	QuestionCount int
	RedisPrefix   string
}

/*
====================================
RECOVERY CONFIG
====================================
*/

type RecoveryConfig struct {
	TokenTTL    time.Duration
	RedisPrefix string
}

/*
====================================
AUDIT CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// PersistToDB adds a relational sink alongside any caller-supplied sink.
	PersistToDB bool
}

/*
====================================
METRICS CONFIG
====================================
*/

type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the baseline configuration. Callers typically take
// it, override what they need, and pass the result to [Builder.WithConfig].
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     time.Hour,
			SigningMethod: "hs256",
			Issuer:        "mfacore",
		},
		Session: SessionConfig{
			Lifetime: 30 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
			TempLength:     12,
		},
		Lockout: LockoutConfig{
			MaxAttempts: 4,
		},
		Challenge: ChallengeConfig{
			TTL:           5 * time.Minute,
			CodeDigits:    6,
			QuestionCount: 2,
			RedisPrefix:   "mch",
		},
		Recovery: RecoveryConfig{
			TokenTTL:    24 * time.Hour,
			RedisPrefix: "mrt",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func (c *Config) validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("jwt access ttl must be positive")
	}
	if c.JWT.SigningMethod != "hs256" && c.JWT.SigningMethod != "ed25519" {
		return errors.New("unsupported jwt signing method")
	}
	if len(c.JWT.PrivateKey) == 0 {
		return errors.New("jwt private key required")
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("session lifetime must be positive")
	}
	if c.Lockout.MaxAttempts < 1 {
		return errors.New("lockout max attempts must be >= 1")
	}
	if c.Challenge.TTL <= 0 {
		return errors.New("challenge ttl must be positive")
	}
	if c.Challenge.CodeDigits < 4 || c.Challenge.CodeDigits > 10 {
		return errors.New("challenge code digits must be in [4,10]")
	}
	if c.Challenge.QuestionCount < 1 {
		return errors.New("challenge question count must be >= 1")
	}
	if c.Recovery.TokenTTL <= 0 {
		return errors.New("recovery token ttl must be positive")
	}
	if c.Password.TempLength < 8 {
		return errors.New("temp password length must be >= 8")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = append([]byte(nil), cfg.JWT.PrivateKey...)
	out.JWT.PublicKey = append([]byte(nil), cfg.JWT.PublicKey...)
	return out
}

func fillConfigDefaults(cfg *Config) {
	def := defaultConfig()
	if cfg.JWT.AccessTTL == 0 {
		cfg.JWT.AccessTTL = def.JWT.AccessTTL
	}
	if cfg.JWT.SigningMethod == "" {
		cfg.JWT.SigningMethod = def.JWT.SigningMethod
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = def.JWT.Issuer
	}
	if cfg.Session.Lifetime == 0 {
		cfg.Session.Lifetime = def.Session.Lifetime
	}
	if cfg.Password.Memory == 0 {
		cfg.Password.Memory = def.Password.Memory
	}
	if cfg.Password.Time == 0 {
		cfg.Password.Time = def.Password.Time
	}
	if cfg.Password.Parallelism == 0 {
		cfg.Password.Parallelism = def.Password.Parallelism
	}
	if cfg.Password.SaltLength == 0 {
		cfg.Password.SaltLength = def.Password.SaltLength
	}
	if cfg.Password.KeyLength == 0 {
		cfg.Password.KeyLength = def.Password.KeyLength
	}
	if cfg.Password.TempLength == 0 {
		cfg.Password.TempLength = def.Password.TempLength
	}
	if cfg.Lockout.MaxAttempts == 0 {
		cfg.Lockout.MaxAttempts = def.Lockout.MaxAttempts
	}
	if cfg.Challenge.TTL == 0 {
		cfg.Challenge.TTL = def.Challenge.TTL
	}
	if cfg.Challenge.CodeDigits == 0 {
		cfg.Challenge.CodeDigits = def.Challenge.CodeDigits
	}
	if cfg.Challenge.QuestionCount == 0 {
		cfg.Challenge.QuestionCount = def.Challenge.QuestionCount
	}
	if cfg.Challenge.RedisPrefix == "" {
		cfg.Challenge.RedisPrefix = def.Challenge.RedisPrefix
	}
	if cfg.Recovery.TokenTTL == 0 {
		cfg.Recovery.TokenTTL = def.Recovery.TokenTTL
	}
	if cfg.Recovery.RedisPrefix == "" {
		cfg.Recovery.RedisPrefix = def.Recovery.RedisPrefix
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = def.Audit.BufferSize
	}
}
