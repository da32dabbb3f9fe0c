package auth

import "sort"

// PermissionWildcard marks the permission set of a global administrator.
// It satisfies every permission check unconditionally.
const PermissionWildcard = "*"

// Principal is the resolved identity and authorization context of a caller.
// It is a sealed union: a caller is either platform-global or scoped to one
// tenant, and downstream code cannot read tenant attributes off a global
// principal by construction.
//
// A Principal is rebuilt from the directory on every authenticated request;
// only its serialized claims travel inside a signed token.
type Principal interface {
	Subject() string
	Email() string
	DisplayName() string
	RoleCode() string
	HasPermission(key string) bool
	PermissionList() []string

	sealed()
}

// GlobalPrincipal carries a platform-wide role. It has no tenant and its
// permission set is the wildcard.
type GlobalPrincipal struct {
	UserID    string
	UserEmail string
	Name      string
	Role      string
}

func (p GlobalPrincipal) Subject() string             { return p.UserID }
func (p GlobalPrincipal) Email() string               { return p.UserEmail }
func (p GlobalPrincipal) DisplayName() string         { return p.Name }
func (p GlobalPrincipal) RoleCode() string            { return p.Role }
func (p GlobalPrincipal) HasPermission(string) bool   { return true }
func (p GlobalPrincipal) PermissionList() []string    { return []string{PermissionWildcard} }
func (GlobalPrincipal) sealed()                       {}

// TenantPrincipal carries a role and flattened permission set scoped to a
// single tenant.
type TenantPrincipal struct {
	UserID      string
	UserEmail   string
	Name        string
	Role        string
	TenantID    string
	TenantAdmin bool

	permissions map[string]struct{}
}

// NewTenantPrincipal builds a tenant-scoped principal with its permission set.
func NewTenantPrincipal(userID, email, name, role, tenantID string, admin bool, permissions []string) TenantPrincipal {
	set := make(map[string]struct{}, len(permissions))
	for _, key := range permissions {
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	return TenantPrincipal{
		UserID:      userID,
		UserEmail:   email,
		Name:        name,
		Role:        role,
		TenantID:    tenantID,
		TenantAdmin: admin,
		permissions: set,
	}
}

func (p TenantPrincipal) Subject() string     { return p.UserID }
func (p TenantPrincipal) Email() string       { return p.UserEmail }
func (p TenantPrincipal) DisplayName() string { return p.Name }
func (p TenantPrincipal) RoleCode() string    { return p.Role }

func (p TenantPrincipal) HasPermission(key string) bool {
	_, ok := p.permissions[key]
	return ok
}

func (p TenantPrincipal) PermissionList() []string {
	out := make([]string, 0, len(p.permissions))
	for key := range p.permissions {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func (TenantPrincipal) sealed() {}

// IsTenantAdmin reports whether the principal administers its tenant.
// Global principals administer every tenant.
func IsTenantAdmin(p Principal) bool {
	switch v := p.(type) {
	case GlobalPrincipal:
		return true
	case TenantPrincipal:
		return v.TenantAdmin
	default:
		return false
	}
}

// TenantOf returns the tenant a principal is scoped to, if any.
func TenantOf(p Principal) (string, bool) {
	if v, ok := p.(TenantPrincipal); ok {
		return v.TenantID, true
	}
	return "", false
}
