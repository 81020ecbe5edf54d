package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// DefaultCookieName is the session cookie read when Options.CookieName is
// empty.
const DefaultCookieName = "sid"

// SessionValidator is satisfied by *goIdentity.Engine.
type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID string) (goIdentity.SessionInfo, error)
}

// Options configures Guard.
type Options struct {
	CookieName   string
	Capabilities []goIdentity.Capability
}

type sessionContextKey struct{}

// SessionFromContext returns the session injected by a guard.
func SessionFromContext(ctx context.Context) (goIdentity.SessionInfo, bool) {
	info, ok := ctx.Value(sessionContextKey{}).(goIdentity.SessionInfo)
	return info, ok
}

// WithSession returns ctx carrying info. Handlers under test use it to
// bypass the guard.
func WithSession(ctx context.Context, info goIdentity.SessionInfo) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, info)
}

// Guard rejects requests without a live session with 401, store outages
// with 503 and roles lacking a required capability with 403.
func Guard(v SessionValidator, opts Options) func(http.Handler) http.Handler {
	cookieName := opts.CookieName
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	caps := append([]goIdentity.Capability(nil), opts.Capabilities...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			sessionID, ok := SessionID(r, cookieName)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			info, err := v.ValidateSession(r.Context(), sessionID)
			if err != nil {
				if errors.Is(err, goIdentity.ErrStoreUnavailable) {
					w.Header().Set("Retry-After", "1")
					http.Error(w, goIdentity.PublicMessage(err), http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			for _, c := range caps {
				if !info.Role.Can(c) {
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), info)))
		})
	}
}

// RequireSession is Guard with the default cookie and no capability check.
func RequireSession(v SessionValidator) func(http.Handler) http.Handler {
	return Guard(v, Options{})
}

// RequireCapability is Guard requiring every listed capability.
func RequireCapability(v SessionValidator, caps ...goIdentity.Capability) func(http.Handler) http.Handler {
	return Guard(v, Options{Capabilities: caps})
}

// SessionID extracts the session id from the bearer header or, failing
// that, the named cookie.
func SessionID(r *http.Request, cookieName string) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	c, err := r.Cookie(cookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
