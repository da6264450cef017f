package goMembership

import (
	"errors"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/goMembership/internal/audit"
	"github.com/MrEthical07/goMembership/internal/limiters"
	"github.com/MrEthical07/goMembership/password"
	"github.com/MrEthical07/goMembership/repository"
	"github.com/MrEthical07/goMembership/session"
	"github.com/MrEthical07/goMembership/ticket"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine] from a [Config] and its storage backends.
//
// Builder instances are intended to be configured during initialization and
// then used for a single Build call.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users     repository.UserRepository
	sessions  repository.SessionRepository
	validator PasswordValidator

	auditSink AuditSink
	logger    *slog.Logger

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration with a copy of cfg. Later
// With* calls that touch configuration apply on top of it.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client used for session state and failed-attempt
// windows. Without it, sessions need [Builder.WithSessionRepository] and
// lockout is disabled.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserRepository sets the store for membership users. It is required.
func (b *Builder) WithUserRepository(repo repository.UserRepository) *Builder {
	b.users = repo
	return b
}

// WithSessionRepository overrides the Redis session store.
func (b *Builder) WithSessionRepository(repo repository.SessionRepository) *Builder {
	b.sessions = repo
	return b
}

// WithPasswordValidator installs a hook that runs after the password policy
// on every new password. A non-nil error rejects the password.
func (b *Builder) WithPasswordValidator(fn PasswordValidator) *Builder {
	b.validator = fn
	return b
}

// WithAuditSink routes audit events to sink. Audit.Enabled must also be
// set for events to be produced.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the ValidateUser latency histogram. It has
// no effect unless metrics are enabled.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready [Engine]. A Builder
// can be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.users == nil {
		return nil, errors.New("user repository required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	// -------- SESSION STORE --------
	var redisStore *session.Store
	sessions := b.sessions
	if sessions == nil {
		if b.redis == nil {
			return nil, errors.New("redis client or session repository required")
		}
		redisStore = session.NewStore(b.redis, cfg.SessionState.RedisPrefix, cfg.SessionState.RetentionGrace)
		sessions = redisStore
	} else if s, ok := sessions.(*session.Store); ok {
		redisStore = s
	}

	// -------- CREDENTIALS --------
	encoder, err := password.NewEncoder(cfg.passwordEncoderConfig())
	if err != nil {
		return nil, err
	}
	policy, err := password.NewPolicy(
		cfg.Password.MinRequiredPasswordLength,
		cfg.Password.MinRequiredNonAlphanumericCharacters,
		cfg.Password.PasswordStrengthRegularExpression,
	)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:       cloneConfig(cfg),
		users:        b.users,
		sessions:     sessions,
		sessionStore: redisStore,
		encoder:      encoder,
		policy:       policy,
		validator:    b.validator,
		logger:       logger,
		now:          time.Now,
	}

	engine.attempts = limiters.NewAttemptLimiter(b.redis, limiters.AttemptConfig{
		Enabled:   cfg.Membership.MaxInvalidPasswordAttempts > 0,
		Threshold: cfg.Membership.MaxInvalidPasswordAttempts,
		Window:    cfg.Membership.PasswordAttemptWindow,
	})
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	if cfg.Ticket.Enabled {
		tm, err := ticket.NewManager(cfg.ticketManagerConfig())
		if err != nil {
			engine.Close()
			return nil, err
		}
		engine.tickets = tm
	}

	b.built = true

	return engine, nil
}
