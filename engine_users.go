package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NewUser describes a local account to create. Password may be empty for
// accounts that only sign in through the identity provider.
type NewUser struct {
	Email        string
	DisplayName  string
	Role         Role
	SupervisorID string
	Password     string
}

// CreateUser validates and stores a new active user. The returned record
// never carries the password hash.
func (e *Engine) CreateUser(ctx context.Context, in NewUser) (User, error) {
	if !e.ready() {
		return User{}, ErrEngineNotReady
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: %q", ErrInvalidEmail, in.Email)
	}
	fields := RoleFields{Role: in.Role, SupervisorID: in.SupervisorID, Active: true}
	if err := validateRoleFields(fields, e.lookupRole(ctx)); err != nil {
		return User{}, mapStoreError(err)
	}

	var hash string
	if in.Password != "" {
		h, err := e.hashNewPassword(in.Password)
		if err != nil {
			return User{}, err
		}
		hash = h
	}

	now := e.now().UTC()
	created, err := e.users.CreateUser(ctx, User{
		Email:        email,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		Role:         in.Role,
		SupervisorID: in.SupervisorID,
		Active:       true,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return User{}, mapStoreError(err)
	}

	e.emitAudit(ctx, auditEventUserCreated, true, created.ID, "", "", nil, func() map[string]string {
		return map[string]string{"role": created.Role.String()}
	})
	created.PasswordHash = ""
	return created, nil
}

// GetUser returns the stored user without its password hash.
func (e *Engine) GetUser(ctx context.Context, userID string) (User, error) {
	if !e.ready() {
		return User{}, ErrEngineNotReady
	}
	u, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		return User{}, mapStoreError(err)
	}
	u.PasswordHash = ""
	return u, nil
}

// UpdateRoleFields changes a user's role, supervisor or active flag. When
// the role changes or the user is deactivated every live session is
// destroyed, since sessions carry a role snapshot. Deactivation also
// invalidates outstanding reset tokens. An active Supervisor that still has
// reports cannot be demoted or deactivated.
func (e *Engine) UpdateRoleFields(ctx context.Context, userID string, fields RoleFields) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if fields.SupervisorID != "" && fields.SupervisorID == userID {
		return fmt.Errorf("%w: user cannot supervise itself", ErrInvalidSupervisor)
	}

	current, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		return mapStoreError(err)
	}
	if err := validateRoleFields(fields, e.lookupRole(ctx)); err != nil {
		return mapStoreError(err)
	}
	if current.Role == RoleSupervisor && current.Active && (fields.Role != RoleSupervisor || !fields.Active) {
		if err := e.requireNoReports(ctx, userID); err != nil {
			return err
		}
	}
	if err := e.users.UpdateRoleFields(ctx, userID, fields); err != nil {
		return mapStoreError(err)
	}

	e.emitAudit(ctx, auditEventUserRoleChanged, true, userID, "", "", nil, func() map[string]string {
		return map[string]string{
			"from":   current.Role.String(),
			"to":     fields.Role.String(),
			"active": fmt.Sprint(fields.Active),
		}
	})

	if current.Role == fields.Role && fields.Active {
		return nil
	}
	if _, err := e.DestroyAllForUser(ctx, userID); err != nil {
		return errors.Join(ErrSessionInvalidationFailed, err)
	}
	if !fields.Active {
		if _, err := e.tokens.InvalidateOutstandingTokens(ctx, userID); err != nil {
			return mapStoreError(err)
		}
	}
	return nil
}

// DeleteUser destroys every session of the user and then removes it.
// Outstanding reset tokens are invalidated as part of the deletion. A
// Supervisor with reports must have them reassigned first.
func (e *Engine) DeleteUser(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	current, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		return mapStoreError(err)
	}
	if current.Role == RoleSupervisor {
		if err := e.requireNoReports(ctx, userID); err != nil {
			return err
		}
	}
	if _, err := e.DestroyAllForUser(ctx, userID); err != nil {
		return errors.Join(ErrSessionInvalidationFailed, err)
	}
	if _, err := e.tokens.InvalidateOutstandingTokens(ctx, userID); err != nil {
		return mapStoreError(err)
	}
	if err := e.users.DeleteUser(ctx, userID); err != nil {
		return mapStoreError(err)
	}
	e.emitAudit(ctx, auditEventUserDeleted, true, userID, "", "", nil, nil)
	return nil
}

// ActiveSessionIDs lists the live session ids of userID.
func (e *Engine) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	ids, err := e.sessions.ActiveSessionIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ids, nil
}

func (e *Engine) requireNoReports(ctx context.Context, supervisorID string) error {
	reports, err := e.users.ListUsersBySupervisor(ctx, supervisorID)
	if err != nil {
		return mapStoreError(err)
	}
	if len(reports) > 0 {
		return fmt.Errorf("%w: %s still supervises %d users", ErrInvalidSupervisor, supervisorID, len(reports))
	}
	return nil
}

func (e *Engine) lookupRole(ctx context.Context) func(string) (Role, error) {
	return func(id string) (Role, error) {
		u, err := e.users.FindUserByID(ctx, id)
		if err != nil {
			return RoleUnknown, err
		}
		if !u.Active {
			return RoleUnknown, nil
		}
		return u.Role, nil
	}
}
