package goIdentity

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// override what differs.
type Config struct {
	Session    SessionConfig
	ResetToken ResetTokenConfig
	RateLimit  RateLimitConfig
	Password   PasswordConfig
	Identity   IdentityConfig
	Delivery   DeliveryConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
	Store      StoreConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls server-side session expiry. With Sliding enabled
// every successful validate renews the IdleTimeout window, never past
// CreatedAt + AbsoluteLifetime.
type SessionConfig struct {
	RedisPrefix      string
	IdleTimeout      time.Duration
	AbsoluteLifetime time.Duration
	Sliding          bool
}

/*
====================================
RESET TOKEN CONFIG
====================================
*/

// DeliveryMode selects how reset mail is sent.
type DeliveryMode uint8

const (
	// DeliveryAsync queues mail on the delivery worker pool.
	DeliveryAsync DeliveryMode = iota
	// DeliverySync sends inline and reports failure as ErrDeliveryFailed.
	DeliverySync
)

// ResetStorage selects the reset token backend.
type ResetStorage uint8

const (
	// ResetStorageCredentialStore keeps tokens in the configured CredentialStore.
	ResetStorageCredentialStore ResetStorage = iota
	// ResetStorageRedis keeps tokens in Redis next to sessions.
	ResetStorageRedis
)

// ResetTokenConfig controls issuance and redemption of reset tokens.
type ResetTokenConfig struct {
	TTL time.Duration
	// MinResponseTime pads every RequestReset so known and unknown
	// addresses take the same time. Jitter adds up to that much on top.
	MinResponseTime time.Duration
	Jitter          time.Duration
	Delivery        DeliveryMode
	// LinkBaseURL is the page that receives the token as the "token"
	// query parameter.
	LinkBaseURL  string
	MailTemplate string
	// Retention keeps consumed and expired records this long for replay
	// reporting before the sweeper removes them.
	Retention   time.Duration
	Storage     ResetStorage
	RedisPrefix string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig holds the reset sliding windows and the password login
// attempt limiter. A zero limit disables that dimension.
type RateLimitConfig struct {
	ResetWindow          time.Duration
	ResetRequestPerEmail int
	ResetRequestPerIP    int
	ResetRedeemPerIP     int

	EnableLoginIPThrottle bool
	MaxLoginAttempts      int
	LoginCooldown         time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters.
type PasswordConfig struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
	// UpgradeOnLogin rehashes on successful login when the stored hash uses
	// older parameters or bcrypt.
	UpgradeOnLogin bool
}

/*
====================================
IDENTITY CONFIG
====================================
*/

// IdentityConfig controls assertion verification and federated
// provisioning. When Enabled and no key source is given to the Builder,
// keys are fetched from JWKSURL.
type IdentityConfig struct {
	Enabled           bool
	Audience          string
	Issuers           []string
	AllowedAlgorithms []string
	Leeway            time.Duration
	MaxFutureIAT      time.Duration

	JWKSURL          string
	JWKSCacheTTL     time.Duration
	JWKSMinRefresh   time.Duration
	JWKSFetchTimeout time.Duration

	AutoProvision bool
	DefaultRole   Role
	// AllowedDomains restricts provisioning to these email domains. Empty
	// allows any domain.
	AllowedDomains []string
}

/*
====================================
DELIVERY, AUDIT, METRICS, STORE
====================================
*/

// DeliveryConfig sizes the async mail worker pool.
type DeliveryConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles counters and the validate latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// StoreConfig bounds store work that must finish regardless of caller
// cancellation, such as consuming a token and rewriting the password.
type StoreConfig struct {
	OperationTimeout time.Duration
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults. Identity is disabled until an
// audience and issuers are configured.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			RedisPrefix:      "is",
			IdleTimeout:      30 * time.Minute,
			AbsoluteLifetime: 12 * time.Hour,
			Sliding:          true,
		},
		ResetToken: ResetTokenConfig{
			TTL:             time.Hour,
			MinResponseTime: 250 * time.Millisecond,
			Jitter:          50 * time.Millisecond,
			Delivery:        DeliveryAsync,
			LinkBaseURL:     "http://localhost:8080/reset-password",
			MailTemplate:    "password_reset",
			Retention:       24 * time.Hour,
			Storage:         ResetStorageCredentialStore,
			RedisPrefix:     "irt",
		},
		RateLimit: RateLimitConfig{
			ResetWindow:           time.Hour,
			ResetRequestPerEmail:  3,
			ResetRequestPerIP:     20,
			ResetRedeemPerIP:      20,
			EnableLoginIPThrottle: true,
			MaxLoginAttempts:      5,
			LoginCooldown:         15 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:           65536,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MaxPasswordBytes: 1024,
			UpgradeOnLogin:   true,
		},
		Identity: IdentityConfig{
			Enabled:           false,
			AllowedAlgorithms: []string{"RS256", "ES256"},
			Leeway:            30 * time.Second,
			MaxFutureIAT:      5 * time.Minute,
			JWKSCacheTTL:      time.Hour,
			JWKSMinRefresh:    30 * time.Second,
			JWKSFetchTimeout:  5 * time.Second,
			AutoProvision:     true,
			DefaultRole:       RoleSalesAgent,
		},
		Delivery: DeliveryConfig{
			Workers:   4,
			QueueSize: 256,
			Timeout:   10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Store: StoreConfig{
			OperationTimeout: 5 * time.Second,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Identity.Issuers = slices.Clone(cfg.Identity.Issuers)
	out.Identity.AllowedAlgorithms = slices.Clone(cfg.Identity.AllowedAlgorithms)
	out.Identity.AllowedDomains = slices.Clone(cfg.Identity.AllowedDomains)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Session
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}
	if c.Session.AbsoluteLifetime <= 0 {
		return errors.New("Session AbsoluteLifetime must be > 0")
	}
	if c.Session.Sliding {
		if c.Session.IdleTimeout <= 0 {
			return errors.New("Session IdleTimeout must be > 0 when Sliding is enabled")
		}
		if c.Session.IdleTimeout > c.Session.AbsoluteLifetime {
			return errors.New("Session IdleTimeout must not exceed AbsoluteLifetime")
		}
	}

	// Reset tokens
	if c.ResetToken.TTL <= 0 {
		return errors.New("ResetToken TTL must be > 0")
	}
	if c.ResetToken.MinResponseTime < 0 || c.ResetToken.Jitter < 0 {
		return errors.New("ResetToken MinResponseTime and Jitter must be >= 0")
	}
	if c.ResetToken.Delivery != DeliveryAsync && c.ResetToken.Delivery != DeliverySync {
		return errors.New("ResetToken Delivery must be DeliveryAsync or DeliverySync")
	}
	if c.ResetToken.Storage != ResetStorageCredentialStore && c.ResetToken.Storage != ResetStorageRedis {
		return errors.New("ResetToken Storage is unsupported")
	}
	if c.ResetToken.Storage == ResetStorageRedis && c.ResetToken.RedisPrefix == "" {
		return errors.New("ResetToken RedisPrefix must not be empty with Redis storage")
	}
	if c.ResetToken.Retention < 0 {
		return errors.New("ResetToken Retention must be >= 0")
	}
	if c.ResetToken.MailTemplate == "" {
		return errors.New("ResetToken MailTemplate must not be empty")
	}
	link, err := url.Parse(c.ResetToken.LinkBaseURL)
	if err != nil || link.Scheme == "" || link.Host == "" {
		return errors.New("ResetToken LinkBaseURL must be an absolute URL")
	}
	if link.Scheme != "https" && link.Scheme != "http" {
		return errors.New("ResetToken LinkBaseURL must use http or https")
	}

	// Rate limits
	if c.RateLimit.ResetWindow <= 0 {
		return errors.New("RateLimit ResetWindow must be > 0")
	}
	if c.RateLimit.ResetRequestPerEmail < 0 || c.RateLimit.ResetRequestPerIP < 0 || c.RateLimit.ResetRedeemPerIP < 0 {
		return errors.New("RateLimit reset limits must be >= 0")
	}
	if c.RateLimit.MaxLoginAttempts <= 0 {
		return errors.New("RateLimit MaxLoginAttempts must be > 0")
	}
	if c.RateLimit.LoginCooldown <= 0 {
		return errors.New("RateLimit LoginCooldown must be > 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MaxPasswordBytes <= 0 {
		return errors.New("Password MaxPasswordBytes must be > 0")
	}

	// Identity
	if c.Identity.Enabled {
		if c.Identity.Audience == "" {
			return errors.New("Identity Audience is required when Identity is enabled")
		}
		if len(c.Identity.Issuers) == 0 {
			return errors.New("Identity Issuers must not be empty when Identity is enabled")
		}
		if c.Identity.Leeway < 0 || c.Identity.MaxFutureIAT < 0 {
			return errors.New("Identity Leeway and MaxFutureIAT must be >= 0")
		}
		if c.Identity.AutoProvision && !c.Identity.DefaultRole.Valid() {
			return errors.New("Identity DefaultRole must be a valid role when AutoProvision is enabled")
		}
		for _, d := range c.Identity.AllowedDomains {
			if strings.TrimSpace(d) == "" || strings.Contains(d, "@") {
				return fmt.Errorf("Identity AllowedDomains entry %q is invalid", d)
			}
		}
	}

	// Delivery
	if c.Delivery.Workers <= 0 {
		return errors.New("Delivery Workers must be > 0")
	}
	if c.Delivery.QueueSize <= 0 {
		return errors.New("Delivery QueueSize must be > 0")
	}
	if c.Delivery.Timeout <= 0 {
		return errors.New("Delivery Timeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Audit is enabled")
	}

	// Store
	if c.Store.OperationTimeout <= 0 {
		return errors.New("Store OperationTimeout must be > 0")
	}

	return nil
}
