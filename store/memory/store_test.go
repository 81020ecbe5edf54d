package memory

import (
	"context"
	"crypto/sha256"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, s *Store, email string) goIdentity.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), goIdentity.User{
		Email:  email,
		Role:   goIdentity.RoleSalesAgent,
		Active: true,
	})
	require.NoError(t, err)
	return u
}

func hashOf(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

func TestCreateUserAssignsIDAndNormalizesEmail(t *testing.T) {
	s := New()
	ctx := context.Background()

	u, err := s.CreateUser(ctx, goIdentity.User{Email: "  Alice@Example.COM ", Role: goIdentity.RoleAdmin, Active: true})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.False(t, u.CreatedAt.IsZero())

	got, err := s.FindUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestCreateUserRejectsDuplicates(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.CreateUser(ctx, goIdentity.User{Email: "a@example.com", ExternalSubject: "sub-1"})
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, goIdentity.User{Email: "A@example.com"})
	assert.ErrorIs(t, err, goIdentity.ErrUserExists)

	_, err = s.CreateUser(ctx, goIdentity.User{Email: "b@example.com", ExternalSubject: "sub-1"})
	assert.ErrorIs(t, err, goIdentity.ErrUserExists)
}

func TestLookupsReportNotFound(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.FindUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, goIdentity.ErrUserNotFound)
	_, err = s.FindUserByID(ctx, "missing")
	assert.ErrorIs(t, err, goIdentity.ErrUserNotFound)
	_, err = s.FindUserByExternalSubject(ctx, "")
	assert.ErrorIs(t, err, goIdentity.ErrUserNotFound)
	assert.ErrorIs(t, s.UpdatePasswordHash(ctx, "missing", "h"), goIdentity.ErrUserNotFound)
	assert.ErrorIs(t, s.DeleteUser(ctx, "missing"), goIdentity.ErrUserNotFound)
}

func TestLinkExternalSubject(t *testing.T) {
	s := New()
	ctx := context.Background()
	alice := seedUser(t, s, "alice@example.com")
	bob := seedUser(t, s, "bob@example.com")

	require.NoError(t, s.LinkExternalSubject(ctx, alice.ID, "google-1"))
	require.NoError(t, s.LinkExternalSubject(ctx, alice.ID, "google-1"))

	got, err := s.FindUserByExternalSubject(ctx, "google-1")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	assert.ErrorIs(t, s.LinkExternalSubject(ctx, bob.ID, "google-1"), goIdentity.ErrUserExists)
	assert.ErrorIs(t, s.LinkExternalSubject(ctx, alice.ID, "google-2"), goIdentity.ErrUserExists)
}

func TestUpdateRoleFieldsAndTouch(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := seedUser(t, s, "carol@example.com")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpdateRoleFields(ctx, u.ID, goIdentity.RoleFields{Role: goIdentity.RoleManager, Active: false}))
	require.NoError(t, s.TouchLastLogin(ctx, u.ID, at))

	got, err := s.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, goIdentity.RoleManager, got.Role)
	assert.False(t, got.Active)
	assert.Equal(t, at, got.LastLoginAt)
}

func TestListUsersBySupervisor(t *testing.T) {
	s := New()
	ctx := context.Background()
	lead, err := s.CreateUser(ctx, goIdentity.User{Email: "lead@example.com", Role: goIdentity.RoleSupervisor, Active: true})
	require.NoError(t, err)
	report := seedUser(t, s, "rep@example.com")
	_ = seedUser(t, s, "solo@example.com")
	require.NoError(t, s.UpdateRoleFields(ctx, report.ID, goIdentity.RoleFields{
		Role: goIdentity.RoleSalesAgent, SupervisorID: lead.ID, Active: true,
	}))

	got, err := s.ListUsersBySupervisor(ctx, lead.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, report.ID, got[0].ID)

	got, err = s.ListUsersBySupervisor(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestConsumeTokenOutcomes(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := seedUser(t, s, "dave@example.com")
	now := time.Now()

	live := hashOf("live")
	stale := hashOf("stale")
	require.NoError(t, s.CreateResetToken(ctx, goIdentity.ResetTokenRecord{TokenHash: stale, UserID: u.ID, IssuedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}))

	_, err := s.ConsumeToken(ctx, stale, now)
	assert.ErrorIs(t, err, goIdentity.ErrTokenExpired)

	require.NoError(t, s.CreateResetToken(ctx, goIdentity.ResetTokenRecord{TokenHash: live, UserID: u.ID, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}))

	userID, err := s.ConsumeToken(ctx, live, now)
	require.NoError(t, err)
	assert.Equal(t, u.ID, userID)

	_, err = s.ConsumeToken(ctx, live, now)
	assert.ErrorIs(t, err, goIdentity.ErrTokenAlreadyConsumed)

	_, err = s.ConsumeToken(ctx, hashOf("never issued"), now)
	assert.ErrorIs(t, err, goIdentity.ErrTokenNotFound)
}

func TestCreateResetTokenInvalidatesPrevious(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := seedUser(t, s, "erin@example.com")
	now := time.Now()

	t1, t2 := hashOf("t1"), hashOf("t2")
	require.NoError(t, s.CreateResetToken(ctx, goIdentity.ResetTokenRecord{TokenHash: t1, UserID: u.ID, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s.CreateResetToken(ctx, goIdentity.ResetTokenRecord{TokenHash: t2, UserID: u.ID, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}))

	_, err := s.ConsumeToken(ctx, t1, now)
	assert.ErrorIs(t, err, goIdentity.ErrTokenNotFound)

	userID, err := s.ConsumeToken(ctx, t2, now)
	require.NoError(t, err)
	assert.Equal(t, u.ID, userID)

	n, err := s.InvalidateOutstandingTokens(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "consumed tokens are not outstanding")
}

func TestConcurrentConsumeSingleWinner(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := seedUser(t, s, "frank@example.com")
	now := time.Now()
	h := hashOf("contended")
	require.NoError(t, s.CreateResetToken(ctx, goIdentity.ResetTokenRecord{TokenHash: h, UserID: u.ID, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}))

	const workers = 64
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		wins     atomic.Int32
		consumed atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.ConsumeToken(ctx, h, now)
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, goIdentity.ErrTokenAlreadyConsumed):
				consumed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(workers-1), consumed.Load())
}

func TestDeleteExpiredTokens(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := seedUser(t, s, "gina@example.com")
	v := seedUser(t, s, "hank@example.com")
	now := time.Now()

	require.NoError(t, s.CreateResetToken(ctx, goIdentity.ResetTokenRecord{TokenHash: hashOf("old"), UserID: u.ID, IssuedAt: now.Add(-3 * time.Hour), ExpiresAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, s.CreateResetToken(ctx, goIdentity.ResetTokenRecord{TokenHash: hashOf("fresh"), UserID: v.ID, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}))

	n, err := s.DeleteExpiredTokens(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.ConsumeToken(ctx, hashOf("old"), now)
	assert.ErrorIs(t, err, goIdentity.ErrTokenNotFound)
	_, err = s.ConsumeToken(ctx, hashOf("fresh"), now)
	assert.NoError(t, err)
}

func TestDeleteUserDropsTokens(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := seedUser(t, s, "ivy@example.com")
	now := time.Now()
	require.NoError(t, s.CreateResetToken(ctx, goIdentity.ResetTokenRecord{TokenHash: hashOf("ivy"), UserID: u.ID, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}))

	require.NoError(t, s.DeleteUser(ctx, u.ID))

	_, err := s.ConsumeToken(ctx, hashOf("ivy"), now)
	assert.ErrorIs(t, err, goIdentity.ErrTokenNotFound)
	_, err = s.FindUserByEmail(ctx, "ivy@example.com")
	assert.ErrorIs(t, err, goIdentity.ErrUserNotFound)
}
