// Package httpapi is the HTTP boundary of identityd. Handlers decode
// requests, call the engine and map its errors onto fixed public messages;
// all credential logic stays in the engine.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Engine is the part of *goIdentity.Engine served over HTTP.
type Engine interface {
	middleware.SessionValidator
	LoginWithAssertion(ctx context.Context, assertion string) (goIdentity.LoginResult, error)
	LoginWithPassword(ctx context.Context, email, password string) (goIdentity.LoginResult, error)
	DestroySession(ctx context.Context, sessionID string) error
	GetUser(ctx context.Context, userID string) (goIdentity.User, error)
	RequestReset(ctx context.Context, email string) error
	RedeemReset(ctx context.Context, token, newPassword string) error
	AdminForcedReset(ctx context.Context, adminSessionID, targetUserID string) (string, error)
	Ping(ctx context.Context) error
}

// Options configures NewRouter.
type Options struct {
	Logger       *slog.Logger
	CookieName   string
	CookieSecure bool
	CORSOrigins  []string
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// RequestTimeout bounds handler work. Zero means 30s.
	RequestTimeout time.Duration
}

type server struct {
	engine Engine
	logger *slog.Logger
	cookie cookieConfig
}

// NewRouter wires every identityd endpoint.
func NewRouter(engine Engine, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cookieName := opts.CookieName
	if cookieName == "" {
		cookieName = middleware.DefaultCookieName
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &server{
		engine: engine,
		logger: logger,
		cookie: cookieConfig{name: cookieName, secure: opts.CookieSecure},
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))
	r.Use(clientContext)
	r.Use(chimiddleware.Timeout(timeout))
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	guard := middleware.Guard(engine, middleware.Options{CookieName: cookieName})
	adminGuard := middleware.Guard(engine, middleware.Options{
		CookieName:   cookieName,
		Capabilities: []goIdentity.Capability{goIdentity.CapabilityForcePasswordReset},
	})

	r.Get("/healthz", s.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/assertion", s.loginAssertion)
		r.Post("/login", s.loginPassword)
		r.With(guard).Post("/logout", s.logout)
		r.With(guard).Get("/me", s.me)

		r.Post("/password-reset/request", s.requestReset)
		r.Post("/password-reset/redeem", s.redeemReset)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminGuard)
		r.Post("/users/{userID}/force-reset", s.forceReset)
	})

	return r
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.engine.Ping(ctx); err != nil {
		s.logger.WarnContext(r.Context(), "health check failed", "error", err)
		fail(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", goIdentity.MessageUnavailable)
		return
	}
	success(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
