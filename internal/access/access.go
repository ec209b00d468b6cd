// Package access is a small role registry. A role manager declares roles
// and assigns users to them; components guard privileged operations with
// Require.
package access

import (
	"fmt"
	"sync"

	"github.com/atmx/options-market/internal/model"
)

// Role names a privilege.
type Role string

const (
	RoleFeeAdmin    Role = "fee_admin"
	RoleOracleAdmin Role = "oracle_admin"
)

// Authorizer maps roles to assignees.
type Authorizer struct {
	mu        sync.RWMutex
	manager   string
	known     map[Role]bool
	assignees map[Role]map[string]bool
}

// NewAuthorizer creates an authorizer managed by manager.
func NewAuthorizer(manager string) *Authorizer {
	return &Authorizer{
		manager:   manager,
		known:     make(map[Role]bool),
		assignees: make(map[Role]map[string]bool),
	}
}

// Manager returns the current role manager.
func (a *Authorizer) Manager() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.manager
}

// TransferManager hands the manager role to next. Only the current manager
// may call it.
func (a *Authorizer) TransferManager(next, caller string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if caller != a.manager {
		return fmt.Errorf("%w: %s is not the role manager", model.ErrUnauthorized, caller)
	}
	a.manager = next
	return nil
}

// MakeKnown declares a role.
func (a *Authorizer) MakeKnown(role Role, caller string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if caller != a.manager {
		return fmt.Errorf("%w: %s is not the role manager", model.ErrUnauthorized, caller)
	}
	a.known[role] = true
	return nil
}

// Assign grants a known role to user.
func (a *Authorizer) Assign(role Role, user, caller string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if caller != a.manager {
		return fmt.Errorf("%w: %s is not the role manager", model.ErrUnauthorized, caller)
	}
	if !a.known[role] {
		return fmt.Errorf("%w: role %s is not known", model.ErrUnauthorized, role)
	}
	if a.assignees[role] == nil {
		a.assignees[role] = make(map[string]bool)
	}
	a.assignees[role][user] = true
	return nil
}

// Revoke removes a role from user.
func (a *Authorizer) Revoke(role Role, user, caller string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if caller != a.manager {
		return fmt.Errorf("%w: %s is not the role manager", model.ErrUnauthorized, caller)
	}
	delete(a.assignees[role], user)
	return nil
}

// Require returns nil if caller holds any of roles.
func (a *Authorizer) Require(caller string, roles ...Role) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, r := range roles {
		if a.assignees[r][caller] {
			return nil
		}
	}
	return fmt.Errorf("%w: %s lacks %v", model.ErrUnauthorized, caller, roles)
}

// Bootstrap creates an authorizer where manager also holds every given role.
func Bootstrap(manager string, roles ...Role) *Authorizer {
	a := NewAuthorizer(manager)
	for _, r := range roles {
		a.known[r] = true
		a.assignees[r] = map[string]bool{manager: true}
	}
	return a
}
