package httpapi

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/identity"
	"github.com/MrEthical07/goIdentity/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	issuer        = "https://accounts.example.com"
	audience      = "sales-app-client"
	agentPassword = "correct horse battery staple"
	adminPassword = "admin-passphrase-2026"
)

type captureMailer struct {
	mu   sync.Mutex
	sent []goIdentity.MailMessage
}

func (m *captureMailer) Send(_ context.Context, msg goIdentity.MailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	link, err := url.Parse(m.sent[len(m.sent)-1].Data["reset_link"])
	require.NoError(t, err)
	return link.Query().Get("token")
}

type fixture struct {
	mr      *miniredis.Miniredis
	engine  *goIdentity.Engine
	mailer  *captureMailer
	key     *ecdsa.PrivateKey
	handler http.Handler
	agent   goIdentity.User
	admin   goIdentity.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	cfg := goIdentity.DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.ResetToken.MinResponseTime = 0
	cfg.ResetToken.Jitter = 0
	cfg.ResetToken.Delivery = goIdentity.DeliverySync
	cfg.Identity.Enabled = true
	cfg.Identity.Audience = audience
	cfg.Identity.Issuers = []string{issuer}

	f := &fixture{mr: mr, mailer: &captureMailer{}, key: key}
	f.engine, err = goIdentity.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(memory.New()).
		WithMailer(f.mailer).
		WithKeySource(identity.StaticKeys{"k1": &key.PublicKey}).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() {
		f.engine.Close()
		_ = rdb.Close()
	})

	ctx := context.Background()
	f.admin, err = f.engine.CreateUser(ctx, goIdentity.NewUser{
		Email: "admin@example.com", DisplayName: "Ada", Role: goIdentity.RoleAdmin, Password: adminPassword,
	})
	require.NoError(t, err)
	f.agent, err = f.engine.CreateUser(ctx, goIdentity.NewUser{
		Email: "alice@example.com", DisplayName: "Alice", Role: goIdentity.RoleManager, Password: agentPassword,
	})
	require.NoError(t, err)

	f.handler = NewRouter(f.engine, Options{CookieName: "sid"})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, sessionID string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: "sid", Value: sessionID})
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T, email, password string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		if c.Name == "sid" {
			return c.Value
		}
	}
	t.Fatal("no session cookie")
	return ""
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data any) Envelope {
	t.Helper()
	var raw struct {
		Data  json.RawMessage `json:"data"`
		Error *Error          `json:"error"`
		Meta  Meta            `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	if data != nil {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return Envelope{Error: raw.Error, Meta: raw.Meta}
}

func TestLogin_SetsHardenedCookie(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/login", loginRequest{Email: "alice@example.com", Password: agentPassword}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "sid" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.NotEqual(t, f.agent.ID, cookie.Value)

	var body loginResponse
	env := decodeEnvelope(t, rec, &body)
	assert.Nil(t, env.Error)
	assert.NotEmpty(t, env.Meta.RequestID)
	assert.Equal(t, f.agent.ID, body.User.ID)
	assert.Equal(t, "manager", body.User.Role)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestLogin_FailuresShareOneMessage(t *testing.T) {
	f := newFixture(t)

	wrong := f.do(t, http.MethodPost, "/auth/login", loginRequest{Email: "alice@example.com", Password: "nope"}, "")
	unknown := f.do(t, http.MethodPost, "/auth/login", loginRequest{Email: "ghost@example.com", Password: "nope"}, "")

	for _, rec := range []*httptest.ResponseRecorder{wrong, unknown} {
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		env := decodeEnvelope(t, rec, nil)
		require.NotNil(t, env.Error)
		assert.Equal(t, goIdentity.MessageAuthFailed, env.Error.Message)
	}
}

func TestLogin_MalformedBody(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssertionLogin_ProvisionsAndRejectsForgery(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	sign := func(key *ecdsa.PrivateKey) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
			"iss":            issuer,
			"aud":            audience,
			"sub":            "google-oauth2|42",
			"email":          "newhire@example.com",
			"email_verified": true,
			"name":           "New Hire",
			"iat":            now.Unix(),
			"exp":            now.Add(time.Hour).Unix(),
		})
		tok.Header["kid"] = "k1"
		s, err := tok.SignedString(key)
		require.NoError(t, err)
		return s
	}

	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rec := f.do(t, http.MethodPost, "/auth/assertion", assertionRequest{Assertion: sign(other)}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/assertion", assertionRequest{Assertion: sign(f.key)}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body loginResponse
	decodeEnvelope(t, rec, &body)
	assert.True(t, body.Provisioned)
	assert.Equal(t, "newhire@example.com", body.User.Email)
	assert.Equal(t, "sales_agent", body.User.Role)
}

func TestMeAndLogout(t *testing.T) {
	f := newFixture(t)
	sid := f.login(t, "alice@example.com", agentPassword)

	rec := f.do(t, http.MethodGet, "/auth/me", nil, sid)
	require.Equal(t, http.StatusOK, rec.Code)
	var me meResponse
	decodeEnvelope(t, rec, &me)
	assert.Equal(t, "alice@example.com", me.User.Email)

	rec = f.do(t, http.MethodPost, "/auth/logout", nil, sid)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/auth/me", nil, sid)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMe_RequiresSession(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPasswordResetRoundTrip(t *testing.T) {
	f := newFixture(t)
	sid := f.login(t, "alice@example.com", agentPassword)

	known := f.do(t, http.MethodPost, "/auth/password-reset/request", resetRequest{Email: "alice@example.com"}, "")
	unknown := f.do(t, http.MethodPost, "/auth/password-reset/request", resetRequest{Email: "ghost@example.com"}, "")
	require.Equal(t, http.StatusOK, known.Code)
	require.Equal(t, http.StatusOK, unknown.Code)

	var a, b messageResponse
	decodeEnvelope(t, known, &a)
	decodeEnvelope(t, unknown, &b)
	assert.Equal(t, a, b)
	assert.Equal(t, goIdentity.MessageResetRequested, a.Message)

	token := f.mailer.lastToken(t)
	rec := f.do(t, http.MethodPost, "/auth/password-reset/redeem", redeemRequest{Token: token, NewPassword: "a brand new passphrase"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/auth/me", nil, sid)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "reset must end existing sessions")

	rec = f.do(t, http.MethodPost, "/auth/password-reset/redeem", redeemRequest{Token: token, NewPassword: "yet another passphrase"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec, nil)
	assert.Equal(t, goIdentity.MessageLinkInvalid, env.Error.Message)

	f.login(t, "alice@example.com", "a brand new passphrase")
}

func TestPasswordResetRequest_Throttled(t *testing.T) {
	f := newFixture(t)

	var last *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		last = f.do(t, http.MethodPost, "/auth/password-reset/request", resetRequest{Email: "alice@example.com"}, "")
	}
	require.Equal(t, http.StatusTooManyRequests, last.Code)
	env := decodeEnvelope(t, last, nil)
	assert.Equal(t, goIdentity.MessageThrottled, env.Error.Message)
}

func TestRedeem_MissingPassword(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/password-reset/redeem", redeemRequest{Token: "whatever"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForceReset(t *testing.T) {
	f := newFixture(t)
	adminSID := f.login(t, "admin@example.com", adminPassword)
	agentSID := f.login(t, "alice@example.com", agentPassword)

	path := "/admin/users/" + f.agent.ID + "/force-reset"

	rec := f.do(t, http.MethodPost, path, nil, agentSID)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, path, nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, path, nil, adminSID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var body forceResetResponse
	decodeEnvelope(t, rec, &body)
	require.NotEmpty(t, body.TemporaryPassword)
	assert.Equal(t, f.agent.ID, body.UserID)

	f.login(t, "alice@example.com", body.TemporaryPassword)

	rec = f.do(t, http.MethodPost, "/admin/users/no-such-user/force-reset", nil, adminSID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	f.mr.SetError("LOADING")
	rec = f.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStoreOutageIsRetryable(t *testing.T) {
	f := newFixture(t)
	sid := f.login(t, "alice@example.com", agentPassword)

	f.mr.SetError("LOADING")
	rec := f.do(t, http.MethodGet, "/auth/me", nil, sid)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestAssertionLogin_RejectionsShareOneBody(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	sign := func(key *ecdsa.PrivateKey, sub, email string, verified bool) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
			"iss":            issuer,
			"aud":            audience,
			"sub":            sub,
			"email":          email,
			"email_verified": verified,
			"iat":            now.Unix(),
			"exp":            now.Add(time.Hour).Unix(),
		})
		tok.Header["kid"] = "k1"
		s, err := tok.SignedString(key)
		require.NoError(t, err)
		return s
	}
	withoutMeta := func(rec *httptest.ResponseRecorder) map[string]any {
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		delete(body, "meta")
		return body
	}

	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	forged := f.do(t, http.MethodPost, "/auth/assertion",
		assertionRequest{Assertion: sign(other, "google-oauth2|alice", "alice@example.com", true)}, "")
	unverified := f.do(t, http.MethodPost, "/auth/assertion",
		assertionRequest{Assertion: sign(f.key, "google-oauth2|alice", "alice@example.com", false)}, "")
	unverifiedNew := f.do(t, http.MethodPost, "/auth/assertion",
		assertionRequest{Assertion: sign(f.key, "google-oauth2|7", "stranger@example.com", false)}, "")

	want := withoutMeta(forged)
	for _, rec := range []*httptest.ResponseRecorder{forged, unverified, unverifiedNew} {
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, want, withoutMeta(rec))
		env := decodeEnvelope(t, rec, nil)
		require.NotNil(t, env.Error)
		assert.Equal(t, "AUTH_FAILED", env.Error.Code)
		assert.Equal(t, goIdentity.MessageAuthFailed, env.Error.Message)
	}

	stored, err := f.engine.GetUser(context.Background(), f.agent.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.ExternalSubject)
}

func TestClassify_UnknownErrorIsInternal(t *testing.T) {
	status, code, _ := classify(context.DeadlineExceeded)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_ERROR", code)
}

func TestRecoverer(t *testing.T) {
	h := requestID(recoverer(slog.Default())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
