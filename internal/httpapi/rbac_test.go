package httpapi

import (
	"net/http"
	"testing"

	"carbontrace.io/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func withPrincipal(h http.Handler, p auth.Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), p)))
	})
}

func tenantUser(perms ...string) auth.TenantPrincipal {
	return auth.NewTenantPrincipal("u-1", "ada@example.com", "Ada", "COMPANY_USER", "t-1", false, perms)
}

func TestRequirePermissionStrategies(t *testing.T) {
	env := newTestEnv(t, Options{})

	cases := []struct {
		name      string
		principal auth.Principal
		strategy  Strategy
		required  []string
		allowed   bool
	}{
		{"any passes on one match", tenantUser("view_emissions"), StrategyAny, []string{"view_emissions", "delete_emissions"}, true},
		{"any fails on no match", tenantUser("view_emissions"), StrategyAny, []string{"delete_emissions"}, false},
		{"all passes when complete", tenantUser("view_emissions", "create_reports"), StrategyAll, []string{"view_emissions", "create_reports"}, true},
		{"all fails on partial", tenantUser("view_emissions"), StrategyAll, []string{"view_emissions", "create_reports"}, false},
		{"empty requirement passes", tenantUser(), StrategyAny, nil, true},
		{"wildcard satisfies any", auth.GlobalPrincipal{UserID: "u-9", Role: "SUPERADMIN"}, StrategyAny, []string{"delete_everything"}, true},
		{"wildcard satisfies all", auth.GlobalPrincipal{UserID: "u-9", Role: "SUPERADMIN"}, StrategyAll, []string{"a", "b", "c"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := withPrincipal(env.api.RequirePermission(tc.strategy, tc.required...)(okHandler()), tc.principal)
			rec, body := doJSON(t, h, http.MethodGet, "/probe", "", nil)
			if tc.allowed && rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200 (body %v)", rec.Code, body)
			}
			if !tc.allowed {
				if rec.Code != http.StatusForbidden {
					t.Fatalf("status = %d, want 403", rec.Code)
				}
				wantErrorCode(t, body, auth.CodeInsufficientPermissions)
			}
		})
	}
}

func TestRequirePermissionWithoutPrincipal(t *testing.T) {
	env := newTestEnv(t, Options{})
	h := env.api.RequirePermission(StrategyAny, "view_emissions")(okHandler())
	rec, body := doJSON(t, h, http.MethodGet, "/probe", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	wantErrorCode(t, body, auth.CodeMissingToken)
}

func TestRequireRoleExactMatch(t *testing.T) {
	env := newTestEnv(t, Options{})

	// Roles are flat; SUPERADMIN does not implicitly satisfy a COMPANY_ADMIN
	// role check even though its permission wildcard satisfies everything.
	superadmin := auth.GlobalPrincipal{UserID: "u-9", Role: "SUPERADMIN"}

	h := withPrincipal(env.api.RequireRole("COMPANY_ADMIN")(okHandler()), superadmin)
	rec, body := doJSON(t, h, http.MethodGet, "/probe", "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	wantErrorCode(t, body, auth.CodeInsufficientRole)

	h = withPrincipal(env.api.RequireRole("COMPANY_ADMIN", "SUPERADMIN")(okHandler()), superadmin)
	rec, _ = doJSON(t, h, http.MethodGet, "/probe", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRequireCompanyAdmin(t *testing.T) {
	env := newTestEnv(t, Options{})

	admin := auth.NewTenantPrincipal("u-2", "grace@example.com", "Grace", "COMPANY_ADMIN", "t-1", true, nil)
	h := withPrincipal(env.api.RequireCompanyAdmin()(okHandler()), admin)
	if rec, _ := doJSON(t, h, http.MethodGet, "/probe", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("admin: status = %d, want 200", rec.Code)
	}

	h = withPrincipal(env.api.RequireCompanyAdmin()(okHandler()), tenantUser("view_emissions"))
	if rec, _ := doJSON(t, h, http.MethodGet, "/probe", "", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("member: status = %d, want 403", rec.Code)
	}

	// Global principals administer every tenant.
	h = withPrincipal(env.api.RequireCompanyAdmin()(okHandler()), auth.GlobalPrincipal{UserID: "u-9", Role: "SUPERADMIN"})
	if rec, _ := doJSON(t, h, http.MethodGet, "/probe", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("global: status = %d, want 200", rec.Code)
	}
}

func TestPermissionForRequest(t *testing.T) {
	cases := []struct {
		method, resource, want string
	}{
		{http.MethodGet, "emissions", "view_emissions"},
		{http.MethodHead, "emissions", "view_emissions"},
		{http.MethodPost, "reports", "create_reports"},
		{http.MethodPut, "reports", "update_reports"},
		{http.MethodPatch, "reports", "update_reports"},
		{http.MethodDelete, "reports", "delete_reports"},
		{http.MethodGet, "  Emissions ", "view_emissions"},
		{http.MethodOptions, "reports", ""},
		{http.MethodGet, "", ""},
	}
	for _, tc := range cases {
		if got := PermissionForRequest(tc.method, tc.resource); got != tc.want {
			t.Errorf("PermissionForRequest(%s, %q) = %q, want %q", tc.method, tc.resource, got, tc.want)
		}
	}
}

func TestDenyEchoesRequirementOutsideProduction(t *testing.T) {
	dev := newTestEnv(t, Options{Production: false})
	h := withPrincipal(dev.api.RequirePermission(StrategyAll, "view_emissions", "delete_emissions")(okHandler()), tenantUser())
	_, body := doJSON(t, h, http.MethodGet, "/probe", "", nil)
	if _, ok := body["required_permissions"]; !ok {
		t.Fatal("non-production denial should echo required_permissions")
	}

	prod := newTestEnv(t, Options{Production: true})
	h = withPrincipal(prod.api.RequirePermission(StrategyAll, "view_emissions", "delete_emissions")(okHandler()), tenantUser())
	_, body = doJSON(t, h, http.MethodGet, "/probe", "", nil)
	if _, ok := body["required_permissions"]; ok {
		t.Fatal("production denial must not echo required_permissions")
	}
}

func TestRequireResourceMapsVerb(t *testing.T) {
	env := newTestEnv(t, Options{})

	viewer := tenantUser("view_manifests")
	h := withPrincipal(env.api.RequireResource("manifests")(okHandler()), viewer)

	if rec, _ := doJSON(t, h, http.MethodGet, "/probe", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("GET: status = %d, want 200", rec.Code)
	}
	if rec, _ := doJSON(t, h, http.MethodDelete, "/probe", "", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("DELETE: status = %d, want 403", rec.Code)
	}
}
