package auth

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"carbontrace.io/internal/audit"
	"carbontrace.io/internal/ids"
	"carbontrace.io/internal/obs"
)

// ClientInfo describes the caller of a login attempt.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// TokenPair is an access/refresh token set with expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Service orchestrates credential verification, lockout checks, and
// principal resolution. All collaborators are injected at construction.
type Service struct {
	directory Directory
	events    LoginEventStore
	tokens    *Tokens
	limiter   *Limiter
	sink      audit.Sink

	bcryptCost int
	dummyHash  []byte
	now        func() time.Time
}

// ServiceOption configures Service.
type ServiceOption func(*Service) error

// WithBcryptCost sets the cost for password hashing and the dummy comparison.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) error {
		if cost < MinBcryptCost {
			return errors.New("auth: bcrypt cost below minimum")
		}
		s.bcryptCost = cost
		return nil
	}
}

// WithAuditSink routes authentication decisions to the given sink.
func WithAuditSink(sink audit.Sink) ServiceOption {
	return func(s *Service) error {
		if sink != nil {
			s.sink = sink
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the authentication service.
func NewService(directory Directory, events LoginEventStore, tokens *Tokens, limiter *Limiter, opts ...ServiceOption) (*Service, error) {
	if directory == nil || events == nil || tokens == nil || limiter == nil {
		return nil, errors.New("auth: directory, events, tokens and limiter are required")
	}
	s := &Service{
		directory:  directory,
		events:     events,
		tokens:     tokens,
		limiter:    limiter,
		sink:       audit.NopSink{},
		bcryptCost: bcrypt.DefaultCost + 2,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	// The dummy hash keeps the unknown-email branch doing the same bcrypt
	// work as the wrong-password branch.
	dummy, err := bcrypt.GenerateFromPassword([]byte(ids.New()), s.bcryptCost)
	if err != nil {
		return nil, err
	}
	s.dummyHash = dummy
	return s, nil
}

// Tokens exposes the token service for middleware-level validation.
func (s *Service) Tokens() *Tokens { return s.tokens }

// Limiter exposes the lockout limiter for the inspection endpoint.
func (s *Service) Limiter() *Limiter { return s.limiter }

// NormalizeEmail lower-cases and trims an email for case-insensitive lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Authenticate verifies credentials and resolves the caller's principal.
// Failure modes: INVALID_CREDENTIALS, RATE_LIMIT_EXCEEDED, ACCOUNT_INACTIVE,
// NO_ACTIVE_TENANTS. Unknown-email and wrong-password failures are
// indistinguishable in both response and timing.
func (s *Service) Authenticate(ctx context.Context, email, password string, client ClientInfo) (Principal, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, errInvalidCredentials
	}

	user, err := s.directory.FindUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, systemError(err)
	}
	userID := ""
	if user != nil {
		userID = user.ID
	}

	// Lockout is decided before any hash comparison so locked-out
	// brute-force attempts never reach bcrypt.
	if err := s.limiter.Check(ctx, client.IP, userID); err != nil {
		if CodeOf(err) == CodeRateLimited {
			obs.RecordLockout()
			s.auditLogin(ctx, userID, client, "auth.login.locked_out", nil)
		}
		return nil, err
	}

	matched := false
	if user != nil {
		matched = VerifyPassword(user.PasswordHash, password)
	} else {
		// Burn the same bcrypt cost for unknown accounts.
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
	}

	if !matched {
		// The failure row must land before the next limiter check reads
		// counts, hence the synchronous append.
		s.recordEvent(ctx, userID, client.IP, OutcomeFailure)
		obs.RecordLogin("failure")
		s.auditLogin(ctx, userID, client, "auth.login.failure", nil)
		return nil, errInvalidCredentials
	}

	// Checked after the password match so inactive accounts do not leak
	// existence through a different pre-credential error.
	if !user.Active {
		obs.RecordLogin("inactive")
		s.auditLogin(ctx, user.ID, client, "auth.login.inactive_account", nil)
		return nil, E(CodeAccountInactive, "account is deactivated")
	}

	s.recordEvent(ctx, user.ID, client.IP, OutcomeSuccess)
	if err := s.directory.TouchLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		obs.Warn("last-login update failed", map[string]any{"user_id": user.ID, "error": err.Error()})
	}

	principal, err := s.resolve(ctx, user, false)
	if err != nil {
		return nil, err
	}
	obs.RecordLogin("success")
	s.auditLogin(ctx, user.ID, client, "auth.login.success", map[string]any{
		"role": principal.RoleCode(),
	})
	return principal, nil
}

// Login authenticates and mints a token pair.
func (s *Service) Login(ctx context.Context, email, password string, client ClientInfo) (TokenPair, Principal, error) {
	principal, err := s.Authenticate(ctx, email, password, client)
	if err != nil {
		return TokenPair{}, nil, err
	}
	pair, err := s.mint(principal)
	if err != nil {
		return TokenPair{}, nil, systemError(err)
	}
	return pair, principal, nil
}

// Renew exchanges a valid refresh token for a fresh pair. The principal is
// re-resolved from the directory, never from the old token's claims, so role
// changes, deactivation, and tenant suspension take effect immediately.
func (s *Service) Renew(ctx context.Context, refreshToken string) (TokenPair, Principal, error) {
	claims, err := s.tokens.Validate(refreshToken)
	if err != nil {
		return TokenPair{}, nil, err
	}
	if claims.Kind != TokenKindRefresh {
		return TokenPair{}, nil, E(CodeWrongTokenType, "access token cannot be used to refresh")
	}

	user, err := s.directory.FindUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, E(CodeUserNotFound, "subject no longer exists")
		}
		return TokenPair{}, nil, systemError(err)
	}
	if !user.Active {
		return TokenPair{}, nil, E(CodeAccountInactive, "account is deactivated")
	}

	principal, err := s.resolve(ctx, user, true)
	if err != nil {
		return TokenPair{}, nil, err
	}
	pair, err := s.mint(principal)
	if err != nil {
		return TokenPair{}, nil, systemError(err)
	}
	s.auditLogin(ctx, user.ID, ClientInfo{}, "auth.token.refreshed", map[string]any{
		"role": principal.RoleCode(),
	})
	return pair, principal, nil
}

// ResolveForToken rebuilds the principal for an already-identified subject.
// Tenant memberships are filtered to currently active tenants. Used by token
// refresh, whoami, and the per-request freshness check.
func (s *Service) ResolveForToken(ctx context.Context, userID string) (Principal, error) {
	user, err := s.directory.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, E(CodeUserNotFound, "subject no longer exists")
		}
		return nil, systemError(err)
	}
	if !user.Active {
		return nil, E(CodeUserNotFound, "subject no longer exists")
	}
	return s.resolve(ctx, user, true)
}

// AuthenticateToken validates an access token and re-resolves the principal
// against the directory. Token claims establish identity only; the
// authorization context is always current directory state, which is what
// makes mid-lifetime tenant suspension effective.
func (s *Service) AuthenticateToken(ctx context.Context, raw string) (Principal, error) {
	claims, err := s.tokens.Validate(raw)
	if err != nil {
		return nil, err
	}
	if claims.Kind != TokenKindAccess {
		return nil, E(CodeWrongTokenType, "refresh token cannot authenticate requests")
	}

	user, err := s.directory.FindUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, E(CodeUserNotFound, "subject no longer exists")
		}
		return nil, systemError(err)
	}
	if !user.Active {
		return nil, E(CodeUserNotFound, "subject no longer exists")
	}

	globals, err := s.directory.GlobalRoles(ctx, user.ID)
	if err != nil {
		return nil, systemError(err)
	}
	if len(globals) > 0 {
		return s.globalPrincipal(user, globals), nil
	}

	if claims.TenantID != "" {
		// Freshness check: the claimed tenant must still be an active
		// membership in an active tenant, regardless of token expiry.
		memberships, err := s.activeMemberships(ctx, user.ID, true)
		if err != nil {
			return nil, err
		}
		for _, m := range memberships {
			if m.TenantID == claims.TenantID {
				return s.tenantPrincipal(user, m), nil
			}
		}
		return nil, E(CodeCompanyInactive, "company is not active")
	}

	return s.resolve(ctx, user, true)
}

// LockoutView is the operator-facing snapshot of the failure counters.
type LockoutView struct {
	Email        string `json:"email,omitempty"`
	IP           string `json:"ip,omitempty"`
	UserKnown    bool   `json:"user_known"`
	IPFailures   int    `json:"ip_failures"`
	UserFailures int    `json:"user_failures"`
	Threshold    int    `json:"threshold"`
	Window       string `json:"window"`
	LockedOut    bool   `json:"locked_out"`
}

// LockoutStatus reports current window counters for an email and/or IP.
// Inspection only; the login path never calls this.
func (s *Service) LockoutStatus(ctx context.Context, email, ip string) (*LockoutView, error) {
	view := &LockoutView{
		IP:        ip,
		Threshold: s.limiter.Threshold(),
		Window:    s.limiter.Window().String(),
	}

	userID := ""
	if email != "" {
		view.Email = NormalizeEmail(email)
		user, err := s.directory.FindUserByEmail(ctx, view.Email)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, systemError(err)
		}
		if user != nil {
			view.UserKnown = true
			userID = user.ID
		}
	}

	ipCount, userCount, err := s.limiter.Counts(ctx, ip, userID)
	if err != nil {
		return nil, systemError(err)
	}
	view.IPFailures = ipCount
	view.UserFailures = userCount
	view.LockedOut = ipCount >= view.Threshold || (view.UserKnown && userCount >= view.Threshold)
	return view, nil
}

// resolve builds the principal for a verified user. Global roles take
// precedence and ignore tenant memberships entirely.
func (s *Service) resolve(ctx context.Context, user *User, requireActiveTenant bool) (Principal, error) {
	globals, err := s.directory.GlobalRoles(ctx, user.ID)
	if err != nil {
		return nil, systemError(err)
	}
	if len(globals) > 0 {
		return s.globalPrincipal(user, globals), nil
	}

	memberships, err := s.activeMemberships(ctx, user.ID, requireActiveTenant)
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return nil, E(CodeNoActiveTenants, "no active company memberships")
	}
	return s.tenantPrincipal(user, memberships[0]), nil
}

func (s *Service) activeMemberships(ctx context.Context, userID string, requireActiveTenant bool) ([]Membership, error) {
	memberships, err := s.directory.TenantMemberships(ctx, userID)
	if err != nil {
		return nil, systemError(err)
	}
	filtered := memberships[:0:0]
	for _, m := range memberships {
		if !m.Active {
			continue
		}
		if requireActiveTenant && !m.TenantActive {
			continue
		}
		filtered = append(filtered, m)
	}
	// Earliest membership wins; the tenant id breaks exact ties so the
	// selection is deterministic across stores.
	sort.SliceStable(filtered, func(i, j int) bool {
		if !filtered[i].JoinedAt.Equal(filtered[j].JoinedAt) {
			return filtered[i].JoinedAt.Before(filtered[j].JoinedAt)
		}
		return filtered[i].TenantID < filtered[j].TenantID
	})
	return filtered, nil
}

func (s *Service) globalPrincipal(user *User, globals []string) GlobalPrincipal {
	sort.Strings(globals)
	return GlobalPrincipal{
		UserID:    user.ID,
		UserEmail: user.Email,
		Name:      user.DisplayName,
		Role:      globals[0],
	}
}

func (s *Service) tenantPrincipal(user *User, m Membership) TenantPrincipal {
	return NewTenantPrincipal(user.ID, user.Email, user.DisplayName, m.RoleCode, m.TenantID, m.Admin, m.Permissions)
}

func (s *Service) mint(principal Principal) (TokenPair, error) {
	access, accessExp, err := s.tokens.IssueAccess(principal)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.tokens.IssueRefresh(principal.Subject())
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *Service) recordEvent(ctx context.Context, userID, ip, outcome string) {
	event := &LoginEvent{
		ID:         ids.New(),
		UserID:     userID,
		IP:         ip,
		Outcome:    outcome,
		OccurredAt: s.now().UTC(),
	}
	if err := s.events.Append(ctx, event); err != nil {
		// A lost failure row weakens the next limiter read; log loudly but
		// do not fail the request over it.
		obs.Error("login event append failed", map[string]any{
			"outcome": outcome,
			"error":   err.Error(),
		})
	}
}

func (s *Service) auditLogin(ctx context.Context, userID string, client ClientInfo, action string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	if client.IP != "" {
		details["ip"] = client.IP
	}
	if client.UserAgent != "" {
		details["user_agent"] = client.UserAgent
	}
	_ = s.sink.LogEvent(ctx, audit.Event{
		UserID:     userID,
		Action:     action,
		EntityType: "user",
		EntityID:   userID,
		Details:    details,
		OccurredAt: s.now().UTC(),
	})
}
