package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/google/uuid"
)

// Store is a mutex-guarded CredentialStore. The zero value is not usable;
// call New.
type Store struct {
	mu sync.Mutex

	users     map[string]goIdentity.User
	byEmail   map[string]string
	bySubject map[string]string

	tokens     map[[32]byte]goIdentity.ResetTokenRecord
	userTokens map[string]map[[32]byte]struct{}
}

var _ goIdentity.CredentialStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:      make(map[string]goIdentity.User),
		byEmail:    make(map[string]string),
		bySubject:  make(map[string]string),
		tokens:     make(map[[32]byte]goIdentity.ResetTokenRecord),
		userTokens: make(map[string]map[[32]byte]struct{}),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (goIdentity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return goIdentity.User{}, goIdentity.ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *Store) FindUserByExternalSubject(ctx context.Context, subject string) (goIdentity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.bySubject[subject]
	if !ok || subject == "" {
		return goIdentity.User{}, goIdentity.ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *Store) FindUserByID(ctx context.Context, userID string) (goIdentity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return goIdentity.User{}, goIdentity.ErrUserNotFound
	}
	return u, nil
}

// CreateUser stores user, assigning a UUID when ID is empty.
func (s *Store) CreateUser(ctx context.Context, user goIdentity.User) (goIdentity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Email = normalizeEmail(user.Email)
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if _, ok := s.users[user.ID]; ok {
		return goIdentity.User{}, goIdentity.ErrUserExists
	}
	if _, ok := s.byEmail[user.Email]; ok {
		return goIdentity.User{}, goIdentity.ErrUserExists
	}
	if user.ExternalSubject != "" {
		if _, ok := s.bySubject[user.ExternalSubject]; ok {
			return goIdentity.User{}, goIdentity.ErrUserExists
		}
		s.bySubject[user.ExternalSubject] = user.ID
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}

	s.users[user.ID] = user
	s.byEmail[user.Email] = user.ID
	return user, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	return s.update(userID, func(u *goIdentity.User) error {
		u.PasswordHash = hash
		return nil
	})
}

func (s *Store) UpdateRoleFields(ctx context.Context, userID string, fields goIdentity.RoleFields) error {
	return s.update(userID, func(u *goIdentity.User) error {
		u.Role = fields.Role
		u.SupervisorID = fields.SupervisorID
		u.Active = fields.Active
		return nil
	})
}

// LinkExternalSubject binds subject to userID. A subject owned by another
// user, or a user already bound to a different subject, is ErrUserExists.
func (s *Store) LinkExternalSubject(ctx context.Context, userID, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return goIdentity.ErrUserNotFound
	}
	if owner, ok := s.bySubject[subject]; ok && owner != userID {
		return goIdentity.ErrUserExists
	}
	if u.ExternalSubject != "" && u.ExternalSubject != subject {
		return goIdentity.ErrUserExists
	}
	u.ExternalSubject = subject
	u.UpdatedAt = time.Now().UTC()
	s.users[userID] = u
	s.bySubject[subject] = userID
	return nil
}

func (s *Store) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return goIdentity.ErrUserNotFound
	}
	u.LastLoginAt = at.UTC()
	s.users[userID] = u
	return nil
}

func (s *Store) ListUsersBySupervisor(ctx context.Context, supervisorID string) ([]goIdentity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []goIdentity.User
	for _, u := range s.users {
		if supervisorID != "" && u.SupervisorID == supervisorID {
			out = append(out, u)
		}
	}
	return out, nil
}

// DeleteUser removes the user and every reset token it owns.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return goIdentity.ErrUserNotFound
	}
	delete(s.users, userID)
	delete(s.byEmail, u.Email)
	if u.ExternalSubject != "" {
		delete(s.bySubject, u.ExternalSubject)
	}
	for hash := range s.userTokens[userID] {
		delete(s.tokens, hash)
	}
	delete(s.userTokens, userID)
	return nil
}

func (s *Store) update(userID string, fn func(*goIdentity.User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return goIdentity.ErrUserNotFound
	}
	if err := fn(&u); err != nil {
		return err
	}
	u.UpdatedAt = time.Now().UTC()
	s.users[userID] = u
	return nil
}
