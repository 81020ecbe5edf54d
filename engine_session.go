package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/session"
)

// CreateSession issues a new server-side session for userID with a
// snapshot of role.
func (e *Engine) CreateSession(ctx context.Context, userID string, role Role) (SessionInfo, error) {
	if !e.ready() {
		return SessionInfo{}, ErrEngineNotReady
	}
	if userID == "" || !role.Valid() {
		return SessionInfo{}, ErrUnauthorized
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return SessionInfo{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	sess := &session.Session{
		SessionID: sid.String(),
		UserID:    userID,
		Role:      uint8(role),
	}
	if err := e.sessions.Create(ctx, sess); err != nil {
		e.logger.ErrorContext(ctx, "session create failed", slog.String("user_id", userID), slog.Any("error", err))
		return SessionInfo{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricSessionCreated)
	return sessionInfo(sess), nil
}

// ValidateSession resolves a session id and, under the sliding policy,
// renews its idle window. It fails closed: every failure is
// ErrUnauthorized, joined with ErrStoreUnavailable when Redis failed.
func (e *Engine) ValidateSession(ctx context.Context, sessionID string) (SessionInfo, error) {
	if !e.ready() {
		return SessionInfo{}, errors.Join(ErrUnauthorized, ErrEngineNotReady)
	}

	start := time.Now()
	info, err := e.validateSession(ctx, sessionID)
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}
	if err != nil {
		e.metricInc(MetricSessionRejected)
	}
	return info, err
}

func (e *Engine) validateSession(ctx context.Context, sessionID string) (SessionInfo, error) {
	if _, err := internal.ParseSessionID(sessionID); err != nil {
		return SessionInfo{}, ErrUnauthorized
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrRedisUnavailable) {
			e.logger.WarnContext(ctx, "session validate store failure", slog.Any("error", err))
			return SessionInfo{}, errors.Join(ErrUnauthorized, fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
		}
		if errors.Is(err, session.ErrSessionCorrupt) {
			e.logger.WarnContext(ctx, "corrupt session discarded", slog.Any("error", err))
		}
		return SessionInfo{}, ErrUnauthorized
	}

	info := sessionInfo(sess)
	if !info.Role.Valid() {
		return SessionInfo{}, ErrUnauthorized
	}
	return info, nil
}

// DestroySession logs out one session. Unknown or malformed ids succeed.
func (e *Engine) DestroySession(ctx context.Context, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if _, err := internal.ParseSessionID(sessionID); err != nil {
		return nil
	}

	sess, err := e.sessions.Lookup(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil
		}
		if !errors.Is(err, session.ErrSessionCorrupt) {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		sess = &session.Session{SessionID: sessionID}
	}

	existed, err := e.sessions.Delete(ctx, sess.UserID, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if existed {
		e.metricInc(MetricSessionDestroyed)
		e.emitAudit(ctx, auditEventLogout, true, sess.UserID, "", sessionID, nil, nil)
	}
	return nil
}

// DestroyAllForUser atomically deletes every session of userID and returns
// how many were removed. Every validate that starts after it returns fails.
func (e *Engine) DestroyAllForUser(ctx context.Context, userID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, nil
	}

	n, err := e.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricSessionDestroyAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", "", nil, func() map[string]string {
		return map[string]string{"sessions": fmt.Sprint(n)}
	})
	return n, nil
}

// Authorize validates sessionID and checks that its role holds capability.
// Insufficient roles fail with ErrUnauthorized.
func (e *Engine) Authorize(ctx context.Context, sessionID string, capability Capability) (SessionInfo, error) {
	info, err := e.ValidateSession(ctx, sessionID)
	if err != nil {
		return SessionInfo{}, err
	}
	if !info.Role.Can(capability) {
		e.emitAudit(ctx, auditEventAuthorizeDenied, false, info.UserID, "", "", ErrUnauthorized, func() map[string]string {
			return map[string]string{"capability": capability.String(), "role": info.Role.String()}
		})
		return SessionInfo{}, ErrUnauthorized
	}
	return info, nil
}

func sessionInfo(s *session.Session) SessionInfo {
	return SessionInfo{
		SessionID:      s.SessionID,
		UserID:         s.UserID,
		Role:           Role(s.Role),
		CreatedAt:      sessionTime(s.CreatedAt),
		LastAccessedAt: sessionTime(s.LastAccessedAt),
		ExpiresAt:      sessionTime(s.ExpiresAt),
	}
}
