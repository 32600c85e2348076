package auth

import (
	"context"
	"sort"
	"strings"

	"saferide-backend/internal/model"
)

// RoleStore returns every role assigned to a principal, each with its
// permissions populated.
type RoleStore interface {
	RolesOf(ctx context.Context, principalID string) ([]model.Role, error)
}

// PermissionSet holds permission names plus "resource:action" keys.
type PermissionSet map[string]struct{}

// Has reports whether required is granted. Names match exactly; keys of the
// form "resource:action" also match wildcard grants such as "rides:*" or "*:*".
func (s PermissionSet) Has(required string) bool {
	required = strings.ToLower(strings.TrimSpace(required))
	if required == "" {
		return false
	}
	if _, ok := s[required]; ok {
		return true
	}

	for granted := range s {
		if matchPattern(granted, required) {
			return true
		}
	}

	return false
}

// Names returns the plain permission names in sorted order.
func (s PermissionSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		if strings.Contains(name, ":") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s PermissionSet) add(p model.Permission) {
	if name := strings.ToLower(strings.TrimSpace(p.Name)); name != "" {
		s[name] = struct{}{}
	}
	resource := strings.ToLower(strings.TrimSpace(p.Resource))
	action := strings.ToLower(strings.TrimSpace(p.Action))
	if resource != "" && action != "" {
		s[resource+":"+action] = struct{}{}
	}
}

func matchPattern(pattern string, required string) bool {
	if pattern == "*" || pattern == "*:*" {
		return true
	}

	patParts := strings.SplitN(pattern, ":", 2)
	reqParts := strings.SplitN(required, ":", 2)
	if len(patParts) != 2 || len(reqParts) != 2 {
		return false
	}

	return matchWildcard(patParts[0], reqParts[0]) && matchWildcard(patParts[1], reqParts[1])
}

func matchWildcard(pattern string, value string) bool {
	return pattern == "*" || pattern == value
}

type PolicyKind int

const (
	PolicyRole PolicyKind = iota + 1
	PolicyPermission
	PolicyAnyOf
)

// Policy is one access requirement checked against a resolved principal. An
// any-of policy holds its alternatives in Any and ignores Name.
type Policy struct {
	Kind PolicyKind
	Name string
	Any  []Policy
}

func RoleRequired(name string) Policy {
	return Policy{Kind: PolicyRole, Name: name}
}

func PermissionRequired(name string) Policy {
	return Policy{Kind: PolicyPermission, Name: name}
}

// AnyOf is satisfied when at least one of policies is. An empty AnyOf is
// never satisfied.
func AnyOf(policies ...Policy) Policy {
	return Policy{Kind: PolicyAnyOf, Any: policies}
}

func (p Policy) String() string {
	switch p.Kind {
	case PolicyRole:
		return "role:" + p.Name
	case PolicyAnyOf:
		names := make([]string, 0, len(p.Any))
		for _, alt := range p.Any {
			names = append(names, alt.String())
		}
		return strings.Join(names, " or ")
	default:
		return "permission:" + p.Name
	}
}

// Resolver answers role and permission questions by querying the role store
// on every call.
type Resolver struct {
	roles RoleStore
}

func NewResolver(roles RoleStore) *Resolver {
	return &Resolver{roles: roles}
}

func (r *Resolver) Roles(ctx context.Context, principalID string) ([]model.Role, error) {
	roles, err := r.roles.RolesOf(ctx, principalID)
	if err != nil {
		return nil, StoreError("load roles", err)
	}
	return roles, nil
}

func (r *Resolver) HasRole(ctx context.Context, principalID string, roleName string) (bool, error) {
	roles, err := r.Roles(ctx, principalID)
	if err != nil {
		return false, err
	}
	return hasRole(roles, roleName), nil
}

// PermissionsOf unions the permissions of every role. No roles means an empty
// set.
func (r *Resolver) PermissionsOf(ctx context.Context, principalID string) (PermissionSet, error) {
	roles, err := r.Roles(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return permissionsOf(roles), nil
}

func (r *Resolver) HasPermission(ctx context.Context, principalID string, permission string) (bool, error) {
	set, err := r.PermissionsOf(ctx, principalID)
	if err != nil {
		return false, err
	}
	return set.Has(permission), nil
}

// Check evaluates every policy against the principal's roles with a single
// store lookup. The first failing policy is returned as an authorization
// error naming what was missing.
func (r *Resolver) Check(ctx context.Context, principal model.Principal, policies ...Policy) error {
	if len(policies) == 0 {
		return nil
	}

	roles, err := r.Roles(ctx, principal.ID)
	if err != nil {
		return err
	}

	grants := &grantView{roles: roles}
	for _, policy := range policies {
		if !grants.satisfies(policy) {
			return AuthorizationError(policy.String())
		}
	}

	return nil
}

// grantView builds the permission set at most once per Check.
type grantView struct {
	roles []model.Role
	perms PermissionSet
}

func (v *grantView) satisfies(policy Policy) bool {
	switch policy.Kind {
	case PolicyRole:
		return hasRole(v.roles, policy.Name)
	case PolicyPermission:
		if v.perms == nil {
			v.perms = permissionsOf(v.roles)
		}
		return v.perms.Has(policy.Name)
	case PolicyAnyOf:
		for _, alt := range policy.Any {
			if v.satisfies(alt) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func hasRole(roles []model.Role, name string) bool {
	name = strings.TrimSpace(name)
	for _, role := range roles {
		if strings.EqualFold(role.Name, name) {
			return true
		}
	}
	return false
}

func permissionsOf(roles []model.Role) PermissionSet {
	set := PermissionSet{}
	for _, role := range roles {
		for _, p := range role.Permissions {
			set.add(p)
		}
	}
	return set
}
