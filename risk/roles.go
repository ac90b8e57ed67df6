package risk

import (
	"strings"
	"sync"
)

// Role identifiers recognised across the engine. The table maps principals to
// granted roles and replaces any ambient notion of a privileged caller: every
// mutator entry point names the role it requires.
const (
	RoleRiskAdmin = "ROLE_RISK_ADMIN"
	RoleKeeper    = "ROLE_KEEPER"
)

// RoleSet is an explicit capability table: principal to granted roles.
type RoleSet struct {
	mu     sync.RWMutex
	grants map[string]map[string]struct{}
}

// NewRoleSet constructs an empty capability table.
func NewRoleSet() *RoleSet {
	return &RoleSet{grants: make(map[string]map[string]struct{})}
}

// Grant adds the role to the principal. Empty identifiers are ignored.
func (r *RoleSet) Grant(role, principal string) {
	role, principal = canonical(role), canonical(principal)
	if r == nil || role == "" || principal == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket := r.grants[role]
	if bucket == nil {
		bucket = make(map[string]struct{})
		r.grants[role] = bucket
	}
	bucket[principal] = struct{}{}
}

// Revoke removes the role from the principal.
func (r *RoleSet) Revoke(role, principal string) {
	role, principal = canonical(role), canonical(principal)
	if r == nil || role == "" || principal == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.grants[role], principal)
}

// Has reports whether the principal holds the role.
func (r *RoleSet) Has(role, principal string) bool {
	role, principal = canonical(role), canonical(principal)
	if r == nil || role == "" || principal == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.grants[role][principal]
	return ok
}

func canonical(value string) string {
	return strings.TrimSpace(value)
}
