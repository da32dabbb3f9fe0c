package auth

import (
	"slices"
	"testing"
)

func TestTenantPrincipalPermissions(t *testing.T) {
	p := NewTenantPrincipal("u1", "user@acme.test", "Pat", "COMPANY_USER", "t1", false,
		[]string{"view_reports", "view_reports", ""})

	if !p.HasPermission("view_reports") {
		t.Fatalf("expected permission")
	}
	if p.HasPermission("edit_reports") {
		t.Fatalf("unexpected permission")
	}
	if got := p.PermissionList(); !slices.Equal(got, []string{"view_reports"}) {
		t.Fatalf("unexpected list: %v", got)
	}
	if IsTenantAdmin(p) {
		t.Fatalf("not an admin")
	}
}

func TestGlobalPrincipalWildcard(t *testing.T) {
	p := GlobalPrincipal{UserID: "u1", Role: "SUPERADMIN"}

	if !p.HasPermission("literally_anything") {
		t.Fatalf("wildcard must satisfy any check")
	}
	if !IsTenantAdmin(p) {
		t.Fatalf("global admin administers every tenant")
	}
	if _, ok := TenantOf(p); ok {
		t.Fatalf("no tenant on a global principal")
	}
}
