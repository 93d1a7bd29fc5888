// Package auth provides the identity check performed before a WebSocket
// connection is admitted, and the role table it consults.
package auth

import (
	"errors"
	"sort"
)

// ErrInvalidRole is returned for roles missing from the table.
var ErrInvalidRole = errors.New("auth: invalid role")

// Recognized permissions.
const (
	PermUserRead    = "user:read"
	PermUserWrite   = "user:write"
	PermUserDelete  = "user:delete"
	PermAgentRead   = "agent:read"
	PermAgentWrite  = "agent:write"
	PermAgentDelete = "agent:delete"
	PermSystemRead  = "system:read"
	PermSystemWrite = "system:write"
	PermSystemAdmin = "system:admin"
)

// RoleAdmin is the role that holds every permission.
const RoleAdmin = "admin"

// Roles maps role names to the permissions they grant. It is built once and
// passed to whatever needs it; it is safe for concurrent reads.
type Roles struct {
	perms map[string]map[string]struct{}
}

// NewRoles builds a role table from role -> permissions.
func NewRoles(table map[string][]string) *Roles {
	r := &Roles{perms: make(map[string]map[string]struct{}, len(table))}
	for role, perms := range table {
		set := make(map[string]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		r.perms[role] = set
	}
	return r
}

// DefaultRoles returns the admin, user and readonly roles.
func DefaultRoles() *Roles {
	return NewRoles(map[string][]string{
		RoleAdmin: {
			PermUserRead, PermUserWrite, PermUserDelete,
			PermAgentRead, PermAgentWrite, PermAgentDelete,
			PermSystemRead, PermSystemWrite, PermSystemAdmin,
		},
		"user": {
			PermUserRead,
			PermAgentRead, PermAgentWrite,
			PermSystemRead,
		},
		"readonly": {
			PermUserRead,
			PermAgentRead,
			PermSystemRead,
		},
	})
}

// Check reports whether role grants permission.
func (r *Roles) Check(role, permission string) (bool, error) {
	set, ok := r.perms[role]
	if !ok {
		return false, ErrInvalidRole
	}
	_, granted := set[permission]
	return granted, nil
}

// Permissions returns the sorted permissions of role.
func (r *Roles) Permissions(role string) ([]string, error) {
	set, ok := r.perms[role]
	if !ok {
		return nil, ErrInvalidRole
	}
	perms := make([]string, 0, len(set))
	for p := range set {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return perms, nil
}

// IsAdmin reports whether role is the administrator role.
func IsAdmin(role string) bool {
	return role == RoleAdmin
}
