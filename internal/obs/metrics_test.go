package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/v1/auth/login":                 "/v1/auth/login",
		"/v1/tenants/abc":                "/v1/tenants/:id",
		"/v1/tenants/abc/members":        "/v1/tenants/:id/members",
		"/v1/users/u42":                  "/v1/users/:id",
		"/v1/auth/lockout?email=a@b.co": "/v1/auth/lockout",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
