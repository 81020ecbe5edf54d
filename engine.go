package goIdentity

import (
	"context"
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

// Engine is the identity and credential-reset core. It is safe for
// concurrent use once built.
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time
	redis  redis.UniversalClient

	users        UserStore
	tokens       ResetTokenStore
	sessions     *session.Store
	resetLimiter *limiters.ResetLimiter
	loginLimiter *rate.Limiter
	passwords    *password.Argon2
	verifier     *identity.Verifier
	mailer       Mailer
	delivery     *delivery.Dispatcher
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
}

// Close drains queued mail and audit events. The engine must not be used
// afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.delivery != nil {
		e.delivery.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Ping checks Redis reachability.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if _, err := e.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// AuditDropped returns the number of audit events dropped because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.users != nil && e.tokens != nil && e.sessions != nil && e.passwords != nil
}
