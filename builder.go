package goIdentity

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/goIdentity/identity"
	internalaudit "github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/delivery"
	"github.com/MrEthical07/goIdentity/internal/limiters"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store     CredentialStore
	mailer    Mailer
	keySource identity.KeySource
	auditSink AuditSink
	logger    *slog.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing sessions, limiters and, optionally,
// reset tokens. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the user and reset token store. Required.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithMailer sets the reset mail transport. Required.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithKeySource sets the assertion key source. Without it an enabled
// identity config fetches keys from Config.Identity.JWKSURL.
func (b *Builder) WithKeySource(ks identity.KeySource) *Builder {
	b.keySource = ks
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces the engine clock. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component. It starts
// the mail worker pool and, when enabled, the audit dispatcher; release them
// with Engine.Close.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	ph, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		return nil, err
	}

	// -------- SESSION STORE --------
	sessions := session.NewStore(b.redis, session.Config{
		Prefix:           cfg.Session.RedisPrefix,
		IdleTimeout:      cfg.Session.IdleTimeout,
		AbsoluteLifetime: cfg.Session.AbsoluteLifetime,
		Sliding:          cfg.Session.Sliding,
	}).WithClock(now)

	engine := &Engine{
		config:    cloneConfig(cfg),
		logger:    logger,
		now:       now,
		redis:     b.redis,
		users:     b.store,
		tokens:    b.store,
		sessions:  sessions,
		passwords: ph,
		mailer:    b.mailer,
		metrics:   NewMetrics(cfg.Metrics),
	}

	// -------- RESET TOKENS --------
	if cfg.ResetToken.Storage == ResetStorageRedis {
		engine.tokens = newRedisResetTokenStore(b.redis, cfg.ResetToken)
	}

	// -------- LIMITERS --------
	engine.resetLimiter = limiters.NewResetLimiter(b.redis, limiters.ResetConfig{
		Window:              cfg.RateLimit.ResetWindow,
		MaxRequestsPerEmail: cfg.RateLimit.ResetRequestPerEmail,
		MaxRequestsPerIP:    cfg.RateLimit.ResetRequestPerIP,
		MaxRedeemsPerIP:     cfg.RateLimit.ResetRedeemPerIP,
	}).WithClock(now)
	engine.loginLimiter = rate.New(b.redis, rate.Config{
		EnableIPThrottle:      cfg.RateLimit.EnableLoginIPThrottle,
		MaxLoginAttempts:      cfg.RateLimit.MaxLoginAttempts,
		LoginCooldownDuration: cfg.RateLimit.LoginCooldown,
	})

	// -------- IDENTITY --------
	if cfg.Identity.Enabled {
		keys := b.keySource
		if keys == nil {
			if cfg.Identity.JWKSURL == "" {
				return nil, errors.New("Identity requires a key source or JWKSURL")
			}
			cache, err := identity.NewJWKSCache(identity.JWKSConfig{
				URL:                cfg.Identity.JWKSURL,
				TTL:                cfg.Identity.JWKSCacheTTL,
				MinRefreshInterval: cfg.Identity.JWKSMinRefresh,
				FetchTimeout:       cfg.Identity.JWKSFetchTimeout,
			})
			if err != nil {
				return nil, err
			}
			keys = cache.WithClock(now)
		}
		verifier, err := identity.NewVerifier(identity.Config{
			Issuers:           cfg.Identity.Issuers,
			AllowedAlgorithms: cfg.Identity.AllowedAlgorithms,
			Leeway:            cfg.Identity.Leeway,
			MaxFutureIAT:      cfg.Identity.MaxFutureIAT,
		}, keys)
		if err != nil {
			return nil, fmt.Errorf("identity verifier: %w", err)
		}
		engine.verifier = verifier.WithClock(now)
	}

	// -------- DISPATCHERS --------
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Now:        now,
	}, b.auditSink)
	engine.delivery = delivery.NewDispatcher(delivery.Config{
		Workers:    cfg.Delivery.Workers,
		BufferSize: cfg.Delivery.QueueSize,
		Timeout:    cfg.Delivery.Timeout,
	}, engine.onDeliveryResult)

	b.built = true

	return engine, nil
}
