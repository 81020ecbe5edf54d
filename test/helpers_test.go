package test

import (
	"context"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const alicePassword = "correct horse battery staple"

// cmdCounter is a go-redis Hook that counts Redis round-trips
// (individual commands and pipeline calls).
type cmdCounter struct {
	commands  atomic.Int64
	pipelines atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		// One pipeline is one round-trip regardless of command count.
		h.pipelines.Add(1)
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) Reset() {
	h.commands.Store(0)
	h.pipelines.Store(0)
}

func (h *cmdCounter) Commands() int64  { return h.commands.Load() }
func (h *cmdCounter) Pipelines() int64 { return h.pipelines.Load() }

type tokenMailer struct {
	mu   sync.Mutex
	sent []goIdentity.MailMessage
}

func (m *tokenMailer) Send(_ context.Context, msg goIdentity.MailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *tokenMailer) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail sent")
	}
	link, err := url.Parse(m.sent[len(m.sent)-1].Data["reset_link"])
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	return link.Query().Get("token")
}

type env struct {
	mr      *miniredis.Miniredis
	engine  *goIdentity.Engine
	mailer  *tokenMailer
	counter *cmdCounter
	alice   goIdentity.User
}

func testConfig(storage goIdentity.ResetStorage) goIdentity.Config {
	cfg := goIdentity.DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.ResetToken.MinResponseTime = 0
	cfg.ResetToken.Jitter = 0
	cfg.ResetToken.Delivery = goIdentity.DeliverySync
	cfg.ResetToken.Storage = storage
	cfg.RateLimit.ResetRequestPerEmail = 0
	cfg.RateLimit.ResetRequestPerIP = 0
	cfg.RateLimit.ResetRedeemPerIP = 0
	return cfg
}

func newEnv(t *testing.T, storage goIdentity.ResetStorage) *env {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	// Warm the connection so handshake commands are not counted.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("warmup ping: %v", err)
	}
	counter := &cmdCounter{}
	rdb.AddHook(counter)

	e := &env{mr: mr, mailer: &tokenMailer{}, counter: counter}
	var err error
	e.engine, err = goIdentity.New().
		WithConfig(testConfig(storage)).
		WithRedis(rdb).
		WithCredentialStore(memory.New()).
		WithMailer(e.mailer).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(func() {
		e.engine.Close()
		_ = rdb.Close()
	})

	e.alice, err = e.engine.CreateUser(context.Background(), goIdentity.NewUser{
		Email:       "alice@example.com",
		DisplayName: "Alice",
		Role:        goIdentity.RoleManager,
		Password:    alicePassword,
	})
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	counter.Reset()
	return e
}

func (e *env) requestToken(t *testing.T) string {
	t.Helper()
	if err := e.engine.RequestReset(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	return e.mailer.lastToken(t)
}

var backends = []struct {
	name    string
	storage goIdentity.ResetStorage
}{
	{"credential-store", goIdentity.ResetStorageCredentialStore},
	{"redis", goIdentity.ResetStorageRedis},
}
