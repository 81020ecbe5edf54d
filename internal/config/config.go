// Package config loads identityd settings from the environment and an
// optional .env file and maps them onto goIdentity.Config.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable, e.g. IDENTITYD_REDIS_URL.
const Prefix = "IDENTITYD"

// Env holds service configuration loaded from environment variables.
type Env struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"json"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	SweepInterval   time.Duration `envconfig:"SWEEP_INTERVAL" default:"1h"`
	// Demo runs against an in-process Redis and memory store.
	Demo bool `envconfig:"DEMO" default:"false"`

	RedisURL    string `envconfig:"REDIS_URL"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	AMQPURL     string `envconfig:"AMQP_URL"`
	MailQueue   string `envconfig:"MAIL_QUEUE" default:"identity.reset-mail"`

	CookieName   string   `envconfig:"COOKIE_NAME" default:"sid"`
	CookieSecure bool     `envconfig:"COOKIE_SECURE" default:"true"`
	CORSOrigins  []string `envconfig:"CORS_ORIGINS"`

	SessionIdleTimeout      time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"30m"`
	SessionAbsoluteLifetime time.Duration `envconfig:"SESSION_ABSOLUTE_LIFETIME" default:"12h"`

	ResetTTL             time.Duration `envconfig:"RESET_TOKEN_TTL" default:"1h"`
	ResetLinkBaseURL     string        `envconfig:"RESET_LINK_BASE_URL" default:"http://localhost:8080/reset-password"`
	ResetMinResponseTime time.Duration `envconfig:"RESET_MIN_RESPONSE_TIME" default:"250ms"`
	ResetStorage         string        `envconfig:"RESET_STORAGE" default:"store"`
	DeliveryMode         string        `envconfig:"DELIVERY_MODE" default:"async"`

	IdentityEnabled        bool     `envconfig:"IDENTITY_ENABLED" default:"false"`
	IdentityAudience       string   `envconfig:"IDENTITY_AUDIENCE"`
	IdentityIssuers        []string `envconfig:"IDENTITY_ISSUERS"`
	IdentityJWKSURL        string   `envconfig:"IDENTITY_JWKS_URL"`
	IdentityAllowedDomains []string `envconfig:"IDENTITY_ALLOWED_DOMAINS"`
	IdentityAutoProvision  bool     `envconfig:"IDENTITY_AUTO_PROVISION" default:"true"`
	IdentityDefaultRole    string   `envconfig:"IDENTITY_DEFAULT_ROLE" default:"sales_agent"`

	AuditEnabled bool `envconfig:"AUDIT_ENABLED" default:"true"`
}

// Load reads the given .env files, when present, and then the process
// environment. Variables already set in the environment win over file
// values. With no files, ".env" is tried.
func Load(files ...string) (Env, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Env{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var env Env
	if err := envconfig.Process(Prefix, &env); err != nil {
		return Env{}, err
	}
	if !env.Demo && strings.TrimSpace(env.RedisURL) == "" {
		return Env{}, fmt.Errorf("%s_REDIS_URL is required outside demo mode", Prefix)
	}
	return env, nil
}

// EngineConfig applies env on top of goIdentity.DefaultConfig and validates
// the result.
func (env Env) EngineConfig() (goIdentity.Config, error) {
	cfg := goIdentity.DefaultConfig()

	cfg.Session.IdleTimeout = env.SessionIdleTimeout
	cfg.Session.AbsoluteLifetime = env.SessionAbsoluteLifetime

	cfg.ResetToken.TTL = env.ResetTTL
	cfg.ResetToken.LinkBaseURL = env.ResetLinkBaseURL
	cfg.ResetToken.MinResponseTime = env.ResetMinResponseTime

	switch strings.ToLower(env.ResetStorage) {
	case "store", "":
		cfg.ResetToken.Storage = goIdentity.ResetStorageCredentialStore
	case "redis":
		cfg.ResetToken.Storage = goIdentity.ResetStorageRedis
	default:
		return goIdentity.Config{}, fmt.Errorf("unknown reset storage %q", env.ResetStorage)
	}

	switch strings.ToLower(env.DeliveryMode) {
	case "async", "":
		cfg.ResetToken.Delivery = goIdentity.DeliveryAsync
	case "sync":
		cfg.ResetToken.Delivery = goIdentity.DeliverySync
	default:
		return goIdentity.Config{}, fmt.Errorf("unknown delivery mode %q", env.DeliveryMode)
	}

	cfg.Identity.Enabled = env.IdentityEnabled
	cfg.Identity.Audience = env.IdentityAudience
	cfg.Identity.Issuers = env.IdentityIssuers
	cfg.Identity.JWKSURL = env.IdentityJWKSURL
	cfg.Identity.AllowedDomains = env.IdentityAllowedDomains
	cfg.Identity.AutoProvision = env.IdentityAutoProvision
	role, err := goIdentity.ParseRole(env.IdentityDefaultRole)
	if err != nil {
		return goIdentity.Config{}, err
	}
	cfg.Identity.DefaultRole = role

	cfg.Audit.Enabled = env.AuditEnabled

	if err := cfg.Validate(); err != nil {
		return goIdentity.Config{}, err
	}
	return cfg, nil
}

// Logger builds a slog.Logger for LogLevel and LogFormat ("json" or
// "text").
func (env Env) Logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(env.LogLevel)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(env.LogFormat) {
	case "json", "":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", env.LogFormat)
	}
}
