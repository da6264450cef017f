package goMembership

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/MrEthical07/goMembership/password"
	"github.com/MrEthical07/goMembership/ticket"
)

// Config holds every engine setting. Build it from [DefaultConfig] or
// [LoadConfig] and pass it to [Builder.WithConfig].
type Config struct {
	Membership   MembershipConfig   `envPrefix:"MEMBERSHIP_"`
	Password     PasswordConfig     `envPrefix:"PASSWORD_"`
	SessionState SessionStateConfig `envPrefix:"SESSION_"`
	Ticket       TicketConfig       `envPrefix:"TICKET_"`
	Audit        AuditConfig        `envPrefix:"AUDIT_"`
	Metrics      MetricsConfig      `envPrefix:"METRICS_"`
}

/*
====================================
MEMBERSHIP CONFIG
====================================
*/

// MembershipConfig controls the credential store.
type MembershipConfig struct {
	// ApplicationName partitions users and sessions. Override per call with
	// WithApplicationName.
	ApplicationName            string        `env:"APPLICATION_NAME"`
	RequiresUniqueEmail        bool          `env:"REQUIRES_UNIQUE_EMAIL"`
	RequiresQuestionAndAnswer  bool          `env:"REQUIRES_QUESTION_AND_ANSWER"`
	EnablePasswordReset        bool          `env:"ENABLE_PASSWORD_RESET"`
	EnablePasswordRetrieval    bool          `env:"ENABLE_PASSWORD_RETRIEVAL"`
	MaxInvalidPasswordAttempts int           `env:"MAX_INVALID_PASSWORD_ATTEMPTS"`
	PasswordAttemptWindow      time.Duration `env:"PASSWORD_ATTEMPT_WINDOW"`
	UserIsOnlineTimeWindow     time.Duration `env:"USER_IS_ONLINE_TIME_WINDOW"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the credential hash and the password policy.
type PasswordConfig struct {
	HashAlgorithm                        string `env:"HASH_ALGORITHM"`
	MinRequiredPasswordLength            int    `env:"MIN_REQUIRED_LENGTH"`
	MinRequiredNonAlphanumericCharacters int    `env:"MIN_REQUIRED_NON_ALPHANUMERIC"`
	PasswordStrengthRegularExpression    string `env:"STRENGTH_REGULAR_EXPRESSION"`

	// Argon2 cost parameters, used only with HashAlgorithm "argon2id".
	Argon2Memory      uint32 `env:"ARGON2_MEMORY"`
	Argon2Time        uint32 `env:"ARGON2_TIME"`
	Argon2Parallelism uint8  `env:"ARGON2_PARALLELISM"`
	Argon2KeyLength   uint32 `env:"ARGON2_KEY_LENGTH"`
}

/*
====================================
SESSION STATE CONFIG
====================================
*/

// SessionStateConfig controls the session store.
type SessionStateConfig struct {
	Timeout     time.Duration `env:"TIMEOUT"`
	RedisPrefix string        `env:"REDIS_PREFIX"`
	// RetentionGrace keeps expired records in Redis long enough for a read
	// to observe and delete them.
	RetentionGrace time.Duration `env:"RETENTION_GRACE"`
}

/*
====================================
TICKET CONFIG
====================================
*/

// TicketConfig controls signed authentication tickets.
type TicketConfig struct {
	Enabled       bool          `env:"ENABLED"`
	TTL           time.Duration `env:"TTL"`
	SigningMethod string        `env:"SIGNING_METHOD"` // "hs256" (default) or "ed25519"
	PrivateKey    []byte        `env:"PRIVATE_KEY"`
	PublicKey     []byte        `env:"PUBLIC_KEY"`
	Issuer        string        `env:"ISSUER"`
	Audience      string        `env:"AUDIENCE"`
	Leeway        time.Duration `env:"LEEWAY"`
	KeyID         string        `env:"KEY_ID"`
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls asynchronous audit dispatch.
type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"ENABLE_LATENCY_HISTOGRAMS"`
}

// DefaultConfig returns the settings used when no configuration is supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	argon := password.DefaultArgon2Config()
	return Config{
		Membership: MembershipConfig{
			ApplicationName:            "/",
			RequiresUniqueEmail:        true,
			RequiresQuestionAndAnswer:  false,
			EnablePasswordReset:        true,
			EnablePasswordRetrieval:    true,
			MaxInvalidPasswordAttempts: 5,
			PasswordAttemptWindow:      10 * time.Minute,
			UserIsOnlineTimeWindow:     15 * time.Minute,
		},
		Password: PasswordConfig{
			HashAlgorithm:                        string(password.DefaultAlgorithm),
			MinRequiredPasswordLength:            7,
			MinRequiredNonAlphanumericCharacters: 1,
			Argon2Memory:                         argon.Memory,
			Argon2Time:                           argon.Time,
			Argon2Parallelism:                    argon.Parallelism,
			Argon2KeyLength:                      argon.KeyLength,
		},
		SessionState: SessionStateConfig{
			Timeout:        20 * time.Minute,
			RedisPrefix:    "gm",
			RetentionGrace: 5 * time.Minute,
		},
		Ticket: TicketConfig{
			Enabled:       false,
			TTL:           30 * time.Minute,
			SigningMethod: string(ticket.MethodHS256),
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Ticket.PrivateKey = cloneBytes(cfg.Ticket.PrivateKey)
	out.Ticket.PublicKey = cloneBytes(cfg.Ticket.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	// Membership
	if strings.TrimSpace(c.Membership.ApplicationName) == "" {
		return errors.New("Membership ApplicationName must not be empty")
	}
	if c.Membership.MaxInvalidPasswordAttempts < 0 {
		return errors.New("Membership MaxInvalidPasswordAttempts must be >= 0")
	}
	if c.Membership.MaxInvalidPasswordAttempts > 0 && c.Membership.PasswordAttemptWindow <= 0 {
		return errors.New("Membership PasswordAttemptWindow must be > 0 when lockout is enabled")
	}
	if c.Membership.UserIsOnlineTimeWindow <= 0 {
		return errors.New("Membership UserIsOnlineTimeWindow must be > 0")
	}

	// Password
	if _, err := password.NewEncoder(c.passwordEncoderConfig()); err != nil {
		return err
	}
	if c.Password.MinRequiredPasswordLength < 0 || c.Password.MinRequiredPasswordLength > 128 {
		return errors.New("Password MinRequiredPasswordLength must be between 0 and 128")
	}
	if c.Password.MinRequiredNonAlphanumericCharacters < 0 ||
		c.Password.MinRequiredNonAlphanumericCharacters > 128 {
		return errors.New("Password MinRequiredNonAlphanumericCharacters must be between 0 and 128")
	}
	if c.Password.MinRequiredNonAlphanumericCharacters > c.Password.MinRequiredPasswordLength &&
		c.Password.MinRequiredPasswordLength > 0 {
		return errors.New("Password MinRequiredNonAlphanumericCharacters must not exceed MinRequiredPasswordLength")
	}
	if c.Password.PasswordStrengthRegularExpression != "" {
		if _, err := regexp.Compile(c.Password.PasswordStrengthRegularExpression); err != nil {
			return errors.New("Password PasswordStrengthRegularExpression is not a valid expression")
		}
	}

	// Session state
	if c.SessionState.Timeout <= 0 {
		return errors.New("SessionState Timeout must be > 0")
	}
	if c.SessionState.RetentionGrace < 0 {
		return errors.New("SessionState RetentionGrace must be >= 0")
	}
	if strings.TrimSpace(c.SessionState.RedisPrefix) == "" {
		return errors.New("SessionState RedisPrefix must not be empty")
	}

	// Ticket
	if c.Ticket.Enabled {
		if c.Ticket.TTL <= 0 {
			return errors.New("Ticket TTL must be > 0")
		}
		switch c.Ticket.SigningMethod {
		case string(ticket.MethodHS256):
			if len(c.Ticket.PrivateKey) < 32 {
				return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
			}
		case string(ticket.MethodEd25519):
			if len(c.Ticket.PublicKey) == 0 {
				return errors.New("ed25519 requires PublicKey")
			}
		default:
			return errors.New("unsupported Ticket signing method")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}

func (c *Config) passwordEncoderConfig() password.Config {
	return password.Config{
		Algorithm: password.Algorithm(c.Password.HashAlgorithm),
		Argon2: password.Argon2Config{
			Memory:      c.Password.Argon2Memory,
			Time:        c.Password.Argon2Time,
			Parallelism: c.Password.Argon2Parallelism,
			KeyLength:   c.Password.Argon2KeyLength,
		},
	}
}

func (c *Config) ticketManagerConfig() ticket.Config {
	return ticket.Config{
		TTL:           c.Ticket.TTL,
		SigningMethod: ticket.SigningMethod(c.Ticket.SigningMethod),
		PrivateKey:    cloneBytes(c.Ticket.PrivateKey),
		PublicKey:     cloneBytes(c.Ticket.PublicKey),
		Issuer:        c.Ticket.Issuer,
		Audience:      c.Ticket.Audience,
		Leeway:        c.Ticket.Leeway,
		KeyID:         c.Ticket.KeyID,
	}
}
