package goIdentity

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goIdentity/identity"
	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

const (
	testIssuer   = "https://accounts.example.com"
	testAudience = "sales-app-client"
	testKeyID    = "k1"

	agentPassword = "agent-password-1"
	adminPassword = "admin-password-1"
)

type mockCredentialStore struct {
	mu     sync.Mutex
	users  map[string]User
	tokens map[[32]byte]ResetTokenRecord
	nextID int

	createCalls         int
	linkCalls           int
	updatePasswordCalls int

	onUpdatePassword func()
	findErr          error
}

func newMockCredentialStore() *mockCredentialStore {
	return &mockCredentialStore{
		users:  make(map[string]User),
		tokens: make(map[[32]byte]ResetTokenRecord),
	}
}

func (m *mockCredentialStore) findLocked(match func(User) bool) (User, error) {
	if m.findErr != nil {
		return User{}, m.findErr
	}
	for _, u := range m.users {
		if match(u) {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (m *mockCredentialStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(email)
	return m.findLocked(func(u User) bool { return u.Email == email })
}

func (m *mockCredentialStore) FindUserByExternalSubject(ctx context.Context, subject string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(func(u User) bool { return subject != "" && u.ExternalSubject == subject })
}

func (m *mockCredentialStore) FindUserByID(ctx context.Context, userID string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return User{}, m.findErr
	}
	u, ok := m.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *mockCredentialStore) CreateUser(ctx context.Context, user User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	user.Email = strings.ToLower(user.Email)
	for _, u := range m.users {
		if u.Email == user.Email || (user.ExternalSubject != "" && u.ExternalSubject == user.ExternalSubject) {
			return User{}, ErrUserExists
		}
	}
	m.nextID++
	if user.ID == "" {
		user.ID = fmt.Sprintf("u%d", m.nextID)
	}
	m.users[user.ID] = user
	return user, nil
}

func (m *mockCredentialStore) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	m.mu.Lock()
	m.updatePasswordCalls++
	u, ok := m.users[userID]
	if ok {
		u.PasswordHash = hash
		m.users[userID] = u
	}
	hook := m.onUpdatePassword
	m.mu.Unlock()

	if !ok {
		return ErrUserNotFound
	}
	if hook != nil {
		hook()
	}
	return nil
}

func (m *mockCredentialStore) UpdateRoleFields(ctx context.Context, userID string, fields RoleFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Role, u.SupervisorID, u.Active = fields.Role, fields.SupervisorID, fields.Active
	m.users[userID] = u
	return nil
}

func (m *mockCredentialStore) LinkExternalSubject(ctx context.Context, userID, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linkCalls++
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.ExternalSubject = subject
	m.users[userID] = u
	return nil
}

func (m *mockCredentialStore) ListUsersBySupervisor(ctx context.Context, supervisorID string) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []User
	for _, u := range m.users {
		if u.SupervisorID == supervisorID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *mockCredentialStore) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.LastLoginAt = at
	m.users[userID] = u
	return nil
}

func (m *mockCredentialStore) DeleteUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return ErrUserNotFound
	}
	delete(m.users, userID)
	return nil
}

func (m *mockCredentialStore) CreateResetToken(ctx context.Context, rec ResetTokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidateLocked(rec.UserID)
	m.tokens[rec.TokenHash] = rec
	return nil
}

func (m *mockCredentialStore) InvalidateOutstandingTokens(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalidateLocked(userID), nil
}

func (m *mockCredentialStore) invalidateLocked(userID string) int {
	n := 0
	for h, rec := range m.tokens {
		if rec.UserID == userID && rec.ConsumedAt.IsZero() {
			delete(m.tokens, h)
			n++
		}
	}
	return n
}

func (m *mockCredentialStore) ConsumeToken(ctx context.Context, hash [32]byte, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tokens[hash]
	switch {
	case !ok:
		return "", ErrTokenNotFound
	case !rec.ConsumedAt.IsZero():
		return "", ErrTokenAlreadyConsumed
	case !now.Before(rec.ExpiresAt):
		return "", ErrTokenExpired
	}
	rec.ConsumedAt = now
	m.tokens[hash] = rec
	return rec.UserID, nil
}

func (m *mockCredentialStore) DeleteExpiredTokens(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for h, rec := range m.tokens {
		if rec.ExpiresAt.Before(before) || (!rec.ConsumedAt.IsZero() && rec.ConsumedAt.Before(before)) {
			delete(m.tokens, h)
			n++
		}
	}
	return n, nil
}

func (m *mockCredentialStore) tokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

func (m *mockCredentialStore) user(id string) User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

type recordingMailer struct {
	mu    sync.Mutex
	sent  []MailMessage
	err   error
	delay time.Duration
}

func (r *recordingMailer) Send(ctx context.Context, msg MailMessage) error {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingMailer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recordingMailer) lastToken(t *testing.T) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		t.Fatal("no mail sent")
	}
	link, err := url.Parse(r.sent[len(r.sent)-1].Data["reset_link"])
	if err != nil {
		t.Fatalf("parse reset link: %v", err)
	}
	token := link.Query().Get("token")
	if token == "" {
		t.Fatal("reset link carries no token")
	}
	return token
}

type testClock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.offset += d
	c.mu.Unlock()
}

type harness struct {
	engine *Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	store  *mockCredentialStore
	mailer *recordingMailer
	clock  *testClock
	audit  *ChannelSink
	key    *ecdsa.PrivateKey

	admin      User
	supervisor User
	agent      User
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.ResetToken.MinResponseTime = 0
	cfg.ResetToken.Jitter = 0
	cfg.ResetToken.Delivery = DeliverySync
	cfg.Identity.Enabled = true
	cfg.Identity.Audience = testAudience
	cfg.Identity.Issuers = []string{testIssuer}
	cfg.Audit.Enabled = true
	return cfg
}

func newHarness(t *testing.T, mutate func(cfg *Config)) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		mr:     mr,
		rdb:    rdb,
		store:  newMockCredentialStore(),
		mailer: &recordingMailer{},
		clock:  &testClock{},
		audit:  NewChannelSink(4096),
		key:    key,
	}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(h.store).
		WithMailer(h.mailer).
		WithAuditSink(h.audit).
		WithClock(h.clock.Now)
	if cfg.Identity.Enabled {
		b = b.WithKeySource(identity.StaticKeys{testKeyID: &key.PublicKey})
	}
	h.engine, err = b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	t.Cleanup(func() {
		h.engine.Close()
		_ = rdb.Close()
		mr.Close()
	})

	h.admin = h.mustCreate(t, NewUser{Email: "admin@example.com", DisplayName: "Ada", Role: RoleAdmin, Password: adminPassword})
	h.supervisor = h.mustCreate(t, NewUser{Email: "sam@example.com", DisplayName: "Sam", Role: RoleSupervisor})
	h.agent = h.mustCreate(t, NewUser{Email: "alice@example.com", DisplayName: "Alice", Role: RoleSalesAgent, SupervisorID: h.supervisor.ID, Password: agentPassword})
	return h
}

func (h *harness) mustCreate(t *testing.T, in NewUser) User {
	t.Helper()
	u, err := h.engine.CreateUser(context.Background(), in)
	if err != nil {
		t.Fatalf("create user %s: %v", in.Email, err)
	}
	return u
}

func (h *harness) mustSession(t *testing.T, u User) SessionInfo {
	t.Helper()
	info, err := h.engine.CreateSession(context.Background(), u.ID, u.Role)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return info
}

func (h *harness) assertion(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	return h.signAssertion(t, h.key, mutate)
}

func (h *harness) signAssertion(t *testing.T, key *ecdsa.PrivateKey, mutate func(jwt.MapClaims)) string {
	t.Helper()
	now := h.clock.Now()
	claims := jwt.MapClaims{
		"iss":            testIssuer,
		"aud":            testAudience,
		"sub":            "google-oauth2|1001",
		"email":          "newhire@example.com",
		"email_verified": true,
		"name":           "New Hire",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
	if mutate != nil {
		mutate(claims)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = testKeyID
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign assertion: %v", err)
	}
	return s
}

// requestToken runs a reset request for email and returns the mailed token.
func (h *harness) requestToken(t *testing.T, email string) string {
	t.Helper()
	before := h.mailer.count()
	if err := h.engine.RequestReset(context.Background(), email); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if h.mailer.count() != before+1 {
		t.Fatalf("expected one reset mail, got %d", h.mailer.count()-before)
	}
	return h.mailer.lastToken(t)
}
