package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"carbontrace.io/internal/auth"
)

const testSecret = "httpapi-test-secret-0123456789abcdef"

type fakeDirectory struct {
	users       map[string]*auth.User // keyed by id
	globals     map[string][]string
	memberships map[string][]auth.Membership
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:       map[string]*auth.User{},
		globals:     map[string][]string{},
		memberships: map[string][]auth.Membership{},
	}
}

func (d *fakeDirectory) FindUserByEmail(_ context.Context, email string) (*auth.User, error) {
	for _, u := range d.users {
		if strings.EqualFold(u.Email, email) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (d *fakeDirectory) FindUserByID(_ context.Context, id string) (*auth.User, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (d *fakeDirectory) GlobalRoles(_ context.Context, userID string) ([]string, error) {
	return d.globals[userID], nil
}

func (d *fakeDirectory) TenantMemberships(_ context.Context, userID string) ([]auth.Membership, error) {
	return d.memberships[userID], nil
}

func (d *fakeDirectory) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	if u, ok := d.users[userID]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

type fakeEvents struct {
	rows []auth.LoginEvent
}

func (e *fakeEvents) Append(_ context.Context, ev *auth.LoginEvent) error {
	e.rows = append(e.rows, *ev)
	return nil
}

func (e *fakeEvents) CountFailuresByIP(_ context.Context, ip string, since time.Time) (int, error) {
	n := 0
	for _, r := range e.rows {
		if r.Outcome == auth.OutcomeFailure && r.IP == ip && !r.OccurredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (e *fakeEvents) CountFailuresByUser(_ context.Context, userID string, since time.Time) (int, error) {
	n := 0
	for _, r := range e.rows {
		if r.Outcome == auth.OutcomeFailure && r.UserID == userID && r.UserID != "" && !r.OccurredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type testEnv struct {
	api    *API
	dir    *fakeDirectory
	events *fakeEvents
	svc    *auth.Service
	tokens *auth.Tokens
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	dir := newFakeDirectory()
	events := &fakeEvents{}
	tokens, err := auth.NewTokens(testSecret, auth.WithAccessTTL(15*time.Minute))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	limiter := auth.NewLimiter(events, auth.WithThreshold(3))
	svc, err := auth.NewService(dir, events, tokens, limiter, auth.WithBcryptCost(auth.MinBcryptCost))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &testEnv{
		api:    New(svc, nil, ReadyProbe{}, opts),
		dir:    dir,
		events: events,
		svc:    svc,
		tokens: tokens,
	}
}

// seedUser registers a user with the given password and one active membership.
func (env *testEnv) seedUser(t *testing.T, id, email, password string) {
	t.Helper()
	hash, err := auth.HashPassword(password, auth.MinBcryptCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	env.dir.users[id] = &auth.User{
		ID:           id,
		Email:        email,
		DisplayName:  "Test User",
		PasswordHash: hash,
		Active:       true,
	}
	env.dir.memberships[id] = []auth.Membership{{
		TenantID:     "t-1",
		TenantName:   "Acme Carbon",
		TenantActive: true,
		Active:       true,
		Admin:        false,
		RoleCode:     "COMPANY_USER",
		Permissions:  []string{"view_emissions", "create_reports"},
		JoinedAt:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
}

func (env *testEnv) accessToken(t *testing.T, userID string) string {
	t.Helper()
	principal, err := env.svc.ResolveForToken(context.Background(), userID)
	if err != nil {
		t.Fatalf("ResolveForToken(%s): %v", userID, err)
	}
	raw, _, err := env.tokens.IssueAccess(principal)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	return raw
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	decoded := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("response not JSON: %v\nbody: %s", err, rec.Body.String())
		}
	}
	return rec, decoded
}

func wantErrorCode(t *testing.T, body map[string]any, code auth.Code) {
	t.Helper()
	if got, _ := body["error_code"].(string); got != string(code) {
		t.Fatalf("error_code = %q, want %q (body %v)", got, code, body)
	}
}
