package goIdentity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goIdentity/internal"
)

func TestRequestResetUnknownEmailIsSilent(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.engine.RequestReset(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("expected nil for unknown email, got %v", err)
	}
	if h.mailer.count() != 0 {
		t.Fatalf("expected no mail, got %d", h.mailer.count())
	}
	if h.store.tokenCount() != 0 {
		t.Fatalf("expected no token, got %d", h.store.tokenCount())
	}
}

func TestRequestResetInactiveUserIsSilent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.engine.UpdateRoleFields(ctx, h.agent.ID, RoleFields{Role: RoleSalesAgent, SupervisorID: h.supervisor.ID, Active: false}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := h.engine.RequestReset(ctx, h.agent.Email); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if h.mailer.count() != 0 {
		t.Fatal("inactive user must not receive a reset mail")
	}
}

func TestRequestResetMailsLinkAndStoresOnlyHash(t *testing.T) {
	h := newHarness(t, nil)

	token := h.requestToken(t, "  ALICE@example.com ")

	msg := h.mailer.sent[0]
	if msg.To != h.agent.Email || msg.Template != "password_reset" {
		t.Fatalf("unexpected message: to=%q template=%q", msg.To, msg.Template)
	}
	if msg.Data["expires_in"] != time.Hour.String() {
		t.Fatalf("unexpected expires_in %q", msg.Data["expires_in"])
	}
	if h.store.tokenCount() != 1 {
		t.Fatalf("expected one stored token, got %d", h.store.tokenCount())
	}
	parsed, err := internal.ParseResetToken(token)
	if err != nil {
		t.Fatalf("mailed token does not parse: %v", err)
	}
	h.store.mu.Lock()
	_, ok := h.store.tokens[parsed.Hash()]
	h.store.mu.Unlock()
	if !ok {
		t.Fatal("store must be keyed by the token hash")
	}
}

func TestRedeemResetChangesPasswordAndDestroysSessions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	s1 := h.mustSession(t, h.agent)
	s2 := h.mustSession(t, h.agent)
	token := h.requestToken(t, h.agent.Email)

	if err := h.engine.RedeemReset(ctx, token, "brand-new-password"); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	for _, sid := range []string{s1.SessionID, s2.SessionID} {
		if _, err := h.engine.ValidateSession(ctx, sid); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected session %s destroyed, got %v", sid, err)
		}
	}

	if _, err := h.engine.LoginWithPassword(ctx, h.agent.Email, agentPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must fail, got %v", err)
	}
	if _, err := h.engine.LoginWithPassword(ctx, h.agent.Email, "brand-new-password"); err != nil {
		t.Fatalf("new password login: %v", err)
	}
}

func TestRedeemResetTokenIsSingleUse(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	token := h.requestToken(t, h.agent.Email)

	if err := h.engine.RedeemReset(ctx, token, "first-password"); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	err := h.engine.RedeemReset(ctx, token, "second-password")
	if !errors.Is(err, ErrTokenFault) {
		t.Fatalf("expected ErrTokenFault on replay, got %v", err)
	}
	if PublicMessage(err) != MessageLinkInvalid {
		t.Fatalf("unexpected public message %q", PublicMessage(err))
	}
}

func TestReissueInvalidatesPreviousToken(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sess := h.mustSession(t, h.agent)

	t1 := h.requestToken(t, h.agent.Email)
	t2 := h.requestToken(t, h.agent.Email)
	if t1 == t2 {
		t.Fatal("tokens must differ")
	}

	if err := h.engine.RedeemReset(ctx, t1, "from-first-link"); !errors.Is(err, ErrTokenFault) {
		t.Fatalf("expected superseded token to fail, got %v", err)
	}
	if _, err := h.engine.ValidateSession(ctx, sess.SessionID); err != nil {
		t.Fatalf("failed redeem must not touch sessions: %v", err)
	}
	if err := h.engine.RedeemReset(ctx, t2, "from-second-link"); err != nil {
		t.Fatalf("redeem latest token: %v", err)
	}
	if _, err := h.engine.ValidateSession(ctx, sess.SessionID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected session destroyed, got %v", err)
	}
}

func TestRedeemResetRejectsMalformedAndExpiredTokens(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for _, bad := range []string{"", "not-a-token", "%%%"} {
		if err := h.engine.RedeemReset(ctx, bad, "whatever-password"); !errors.Is(err, ErrTokenFault) {
			t.Fatalf("token %q: expected ErrTokenFault, got %v", bad, err)
		}
	}

	token := h.requestToken(t, h.agent.Email)
	h.clock.Advance(time.Hour + time.Second)
	if err := h.engine.RedeemReset(ctx, token, "too-late-password"); !errors.Is(err, ErrTokenFault) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestRedeemResetCountsRejectionReasons(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_ = h.engine.RedeemReset(ctx, "not-a-token", "some-password")

	superseded := h.requestToken(t, h.agent.Email)
	used := h.requestToken(t, h.agent.Email)
	_ = h.engine.RedeemReset(ctx, superseded, "some-password")
	if err := h.engine.RedeemReset(ctx, used, "first-password"); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	_ = h.engine.RedeemReset(ctx, used, "second-password")

	late := h.requestToken(t, h.agent.Email)
	h.clock.Advance(time.Hour + time.Second)
	_ = h.engine.RedeemReset(ctx, late, "late-password")

	counters := h.engine.MetricsSnapshot().Counters
	want := map[MetricID]uint64{
		MetricResetRedeemMalformed: 1,
		MetricResetRedeemNotFound:  1,
		MetricResetRedeemConsumed:  1,
		MetricResetRedeemExpired:   1,
		MetricResetRedeemFailure:   4,
		MetricResetRedeemSuccess:   1,
	}
	for id, n := range want {
		if counters[id] != n {
			t.Fatalf("metric %d: expected %d, got %d", id, n, counters[id])
		}
	}
}

func TestRedeemResetRequiresPasswordBeforeConsuming(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	token := h.requestToken(t, h.agent.Email)

	if err := h.engine.RedeemReset(ctx, token, ""); !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("expected ErrPasswordRequired, got %v", err)
	}
	if err := h.engine.RedeemReset(ctx, token, "valid-password"); err != nil {
		t.Fatalf("token must survive a rejected password: %v", err)
	}
}

func TestConcurrentRedeemExactlyOneSucceeds(t *testing.T) {
	h := newHarness(t, nil)
	token := h.requestToken(t, h.agent.Email)

	const workers = 8
	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		mu        sync.Mutex
		successes int
		faults    int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := h.engine.RedeemReset(context.Background(), token, "concurrent-password")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrTokenFault):
				faults++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 || faults != workers-1 {
		t.Fatalf("expected 1 success and %d faults, got %d and %d", workers-1, successes, faults)
	}
	if h.store.updatePasswordCalls != 1 {
		t.Fatalf("expected one password update, got %d", h.store.updatePasswordCalls)
	}
}

func TestRedeemResetReportsSessionInvalidationFailure(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	token := h.requestToken(t, h.agent.Email)

	h.store.onUpdatePassword = func() { h.mr.SetError("LOADING redis is loading") }
	err := h.engine.RedeemReset(ctx, token, "changed-anyway")
	h.mr.SetError("")

	if !errors.Is(err, ErrSessionInvalidationFailed) || !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected joined invalidation failure, got %v", err)
	}
	if h.store.user(h.agent.ID).PasswordHash == "" {
		t.Fatal("password must have been updated")
	}
}

func TestRequestResetThrottlesPerEmail(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := h.engine.RequestReset(ctx, "nobody@example.com"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	err := h.engine.RequestReset(ctx, "nobody@example.com")
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
	if PublicMessage(err) != MessageThrottled || IsRetryable(err) {
		t.Fatalf("unexpected classification for %v", err)
	}

	h.clock.Advance(time.Hour + time.Second)
	if err := h.engine.RequestReset(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("window should have slid: %v", err)
	}
}

func TestRequestResetThrottlesPerIP(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.RateLimit.ResetRequestPerIP = 2
	})
	ctx := WithClientIP(context.Background(), "203.0.113.7")

	if err := h.engine.RequestReset(ctx, "a@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := h.engine.RequestReset(ctx, "b@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := h.engine.RequestReset(ctx, "c@example.com"); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
	if err := h.engine.RequestReset(WithClientIP(context.Background(), "198.51.100.1"), "c@example.com"); err != nil {
		t.Fatalf("other address must not be throttled: %v", err)
	}
}

func TestRequestResetStoreOutage(t *testing.T) {
	h := newHarness(t, nil)
	h.store.findErr = errors.New("connection refused")

	err := h.engine.RequestReset(context.Background(), h.agent.Email)
	if !errors.Is(err, ErrStoreUnavailable) || !IsRetryable(err) {
		t.Fatalf("expected retryable ErrStoreUnavailable, got %v", err)
	}
}

func TestRequestResetTimingParity(t *testing.T) {
	const floor = 60 * time.Millisecond
	h := newHarness(t, func(cfg *Config) {
		cfg.ResetToken.MinResponseTime = floor
		cfg.ResetToken.Jitter = 5 * time.Millisecond
		cfg.RateLimit.ResetRequestPerEmail = 0
	})
	ctx := context.Background()

	measure := func(email string) time.Duration {
		start := time.Now()
		if err := h.engine.RequestReset(ctx, email); err != nil {
			t.Fatalf("request %s: %v", email, err)
		}
		return time.Since(start)
	}

	var known, unknown time.Duration
	const rounds = 3
	for i := 0; i < rounds; i++ {
		known += measure(h.agent.Email)
		unknown += measure("nobody@example.com")
	}
	known /= rounds
	unknown /= rounds

	if known < floor || unknown < floor {
		t.Fatalf("responses must be padded to %v: known=%v unknown=%v", floor, known, unknown)
	}
	diff := known - unknown
	if diff < 0 {
		diff = -diff
	}
	if diff > 40*time.Millisecond {
		t.Fatalf("timing differs too much: known=%v unknown=%v", known, unknown)
	}
}

func TestRequestResetHonorsCancellationWhilePadding(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.ResetToken.MinResponseTime = 2 * time.Second
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := h.engine.RequestReset(ctx, "nobody@example.com")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRequestResetSyncDeliveryFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.mailer.err = errors.New("smtp 451")

	err := h.engine.RequestReset(context.Background(), h.agent.Email)
	if !errors.Is(err, ErrDeliveryFailed) || !IsRetryable(err) {
		t.Fatalf("expected retryable ErrDeliveryFailed, got %v", err)
	}
	if got := h.engine.MetricsSnapshot().Counters[MetricMailFailed]; got != 1 {
		t.Fatalf("expected one failed mail, got %d", got)
	}
}

func TestRequestResetAsyncDelivery(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.ResetToken.Delivery = DeliveryAsync
	})

	if err := h.engine.RequestReset(context.Background(), h.agent.Email); err != nil {
		t.Fatalf("request: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.mailer.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("async mail was not delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	token := h.mailer.lastToken(t)
	if err := h.engine.RedeemReset(context.Background(), token, "async-password"); err != nil {
		t.Fatalf("redeem: %v", err)
	}
}

func TestAdminForcedReset(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	adminSess := h.mustSession(t, h.admin)
	agentSess := h.mustSession(t, h.agent)
	token := h.requestToken(t, h.agent.Email)

	temp, err := h.engine.AdminForcedReset(ctx, adminSess.SessionID, h.agent.ID)
	if err != nil {
		t.Fatalf("forced reset: %v", err)
	}
	if len(temp) < 12 {
		t.Fatalf("temporary password too short: %d", len(temp))
	}
	stored := h.store.user(h.agent.ID).PasswordHash
	if stored == "" || stored == temp {
		t.Fatal("only a hash of the temporary password may be stored")
	}

	if _, err := h.engine.ValidateSession(ctx, agentSess.SessionID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("target sessions must be destroyed, got %v", err)
	}
	if _, err := h.engine.ValidateSession(ctx, adminSess.SessionID); err != nil {
		t.Fatalf("admin session must survive: %v", err)
	}
	if err := h.engine.RedeemReset(ctx, token, "sneaky"); !errors.Is(err, ErrTokenFault) {
		t.Fatalf("outstanding reset token must be invalidated, got %v", err)
	}

	res, err := h.engine.LoginWithPassword(ctx, h.agent.Email, temp)
	if err != nil {
		t.Fatalf("login with temporary password: %v", err)
	}
	if res.User.ID != h.agent.ID || res.User.PasswordHash != "" {
		t.Fatalf("unexpected login result: %+v", res.User)
	}
}

func TestAdminForcedResetRequiresAdmin(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for _, u := range []User{h.agent, h.supervisor} {
		sess := h.mustSession(t, u)
		if _, err := h.engine.AdminForcedReset(ctx, sess.SessionID, h.admin.ID); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", u.Role, err)
		}
	}
	if _, err := h.engine.AdminForcedReset(ctx, "garbage", h.agent.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for garbage session, got %v", err)
	}
	if h.store.updatePasswordCalls != 0 {
		t.Fatal("no password may change")
	}

	admin := h.mustSession(t, h.admin)
	if _, err := h.engine.AdminForcedReset(ctx, admin.SessionID, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
