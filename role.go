package goIdentity

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the closed set of application roles. The zero value is invalid.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleAdmin
	RoleManager
	RoleSupervisor
	RoleSalesAgent
)

// Capability names an action gated by role.
type Capability uint8

const (
	CapabilityForcePasswordReset Capability = iota + 1
	CapabilityManageUsers
	CapabilityViewTeam
	CapabilityRecordSales
)

// ParseRole accepts the canonical names in any case, with "_" or "-"
// separators for SalesAgent.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.TrimSpace(s))) {
	case "admin":
		return RoleAdmin, nil
	case "manager":
		return RoleManager, nil
	case "supervisor":
		return RoleSupervisor, nil
	case "salesagent", "agent":
		return RoleSalesAgent, nil
	default:
		return RoleUnknown, fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleManager:
		return "manager"
	case RoleSupervisor:
		return "supervisor"
	case RoleSalesAgent:
		return "sales_agent"
	default:
		return "unknown"
	}
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleSupervisor, RoleSalesAgent:
		return true
	default:
		return false
	}
}

// Can reports whether r holds capability c. Unknown roles and unknown
// capabilities are denied.
func (r Role) Can(c Capability) bool {
	switch r {
	case RoleAdmin:
		switch c {
		case CapabilityForcePasswordReset, CapabilityManageUsers, CapabilityViewTeam, CapabilityRecordSales:
			return true
		}
		return false
	case RoleManager:
		return c == CapabilityViewTeam || c == CapabilityRecordSales
	case RoleSupervisor:
		return c == CapabilityViewTeam || c == CapabilityRecordSales
	case RoleSalesAgent:
		return c == CapabilityRecordSales
	default:
		return false
	}
}

func (c Capability) String() string {
	switch c {
	case CapabilityForcePasswordReset:
		return "force_password_reset"
	case CapabilityManageUsers:
		return "manage_users"
	case CapabilityViewTeam:
		return "view_team"
	case CapabilityRecordSales:
		return "record_sales"
	default:
		return "unknown"
	}
}

// validateRoleFields checks the supervisor invariant. lookup resolves the
// supervisor's current role; it is only called for SalesAgents that name one.
func validateRoleFields(fields RoleFields, lookup func(id string) (Role, error)) error {
	if !fields.Role.Valid() {
		return ErrInvalidRole
	}
	if fields.Role != RoleSalesAgent {
		if fields.SupervisorID != "" {
			return fmt.Errorf("%w: only sales agents report to a supervisor", ErrInvalidSupervisor)
		}
		return nil
	}
	if fields.SupervisorID == "" {
		return nil
	}
	role, err := lookup(fields.SupervisorID)
	if errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf("%w: %s does not exist", ErrInvalidSupervisor, fields.SupervisorID)
	}
	if err != nil {
		return err
	}
	if role != RoleSupervisor {
		return fmt.Errorf("%w: %s is not a supervisor", ErrInvalidSupervisor, fields.SupervisorID)
	}
	return nil
}
