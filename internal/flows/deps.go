package flows

import (
	"context"
	"time"
)

// AuditFunc emits one audit event. Metadata is built lazily so disabled
// auditing costs nothing.
type AuditFunc func(ctx context.Context, eventType string, success bool, userID, actorID string, err error, metadata func() map[string]string)

func noopAudit(context.Context, string, bool, string, string, error, func() map[string]string) {}

func noopMetric(int) {}

func detached(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return bounded(context.WithoutCancel(ctx), timeout)
}

// bounded keeps the caller's cancellation and caps the store call.
func bounded(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
