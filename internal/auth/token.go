package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds. Refresh tokens are exchangeable for a fresh pair and never
// authenticate API calls directly.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

const (
	defaultIssuer     = "carbontrace"
	defaultAudience   = "carbontrace-api"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims is the signed payload of both token kinds. Access tokens carry the
// full authorization snapshot; refresh tokens carry only subject and kind.
//
// Authorization claims are a snapshot with a staleness window equal to the
// access TTL. Anything requiring instant revocation is re-checked against the
// directory on every request, not read from here.
type Claims struct {
	Email       string   `json:"email,omitempty"`
	Name        string   `json:"name,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	TenantID    string   `json:"tenant_id,omitempty"`
	TenantAdmin bool     `json:"tenant_admin,omitempty"`
	Kind        string   `json:"kind"`
	jwt.RegisteredClaims
}

// Tokens issues and validates HS256-signed access and refresh tokens.
// The signing secret is immutable after construction.
type Tokens struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption configures Tokens.
type TokenOption func(*Tokens)

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) TokenOption {
	return func(t *Tokens) {
		if s := strings.TrimSpace(issuer); s != "" {
			t.issuer = s
		}
	}
}

// WithAudience overrides the aud claim.
func WithAudience(audience string) TokenOption {
	return func(t *Tokens) {
		if s := strings.TrimSpace(audience); s != "" {
			t.audience = s
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(t *Tokens) {
		if ttl > 0 {
			t.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(t *Tokens) {
		if ttl > 0 {
			t.refreshTTL = ttl
		}
	}
}

// WithTokenClock overrides the time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(t *Tokens) {
		if fn != nil {
			t.now = fn
		}
	}
}

// NewTokens constructs the token service.
func NewTokens(secret string, opts ...TokenOption) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	t := &Tokens{
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		audience:   defaultAudience,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// AccessTTL returns the configured access token lifetime.
func (t *Tokens) AccessTTL() time.Duration { return t.accessTTL }

// IssueAccess signs a short-lived access token for the principal.
func (t *Tokens) IssueAccess(p Principal) (string, time.Time, error) {
	now := t.now().UTC()
	exp := now.Add(t.accessTTL)
	claims := Claims{
		Email:       p.Email(),
		Name:        p.DisplayName(),
		Role:        p.RoleCode(),
		Permissions: p.PermissionList(),
		TenantAdmin: IsTenantAdmin(p),
		Kind:        TokenKindAccess,
		RegisteredClaims: t.registered(p.Subject(), now, exp),
	}
	if tenantID, ok := TenantOf(p); ok {
		claims.TenantID = tenantID
	}
	return t.sign(claims)
}

// IssueRefresh signs a long-lived refresh token carrying only the subject.
func (t *Tokens) IssueRefresh(userID string) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, errors.New("auth: userID is required")
	}
	now := t.now().UTC()
	exp := now.Add(t.refreshTTL)
	claims := Claims{
		Kind:             TokenKindRefresh,
		RegisteredClaims: t.registered(userID, now, exp),
	}
	return t.sign(claims)
}

func (t *Tokens) registered(subject string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Audience:  jwt.ClaimStrings{t.audience},
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
}

func (t *Tokens) sign(claims Claims) (string, time.Time, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Validate verifies signature, issuer, audience, and expiry, and rejects
// structurally incomplete tokens. An expired token is reported distinctly so
// callers can signal "refresh" instead of "re-authenticate".
func (t *Tokens) Validate(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, E(CodeInvalidToken, "empty token")
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{},
		func(tok *jwt.Token) (any, error) {
			if tok.Method != jwt.SigningMethodHS256 {
				return nil, E(CodeInvalidToken, "unexpected signing method")
			}
			return t.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience(t.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		// Signature problems trump expiry so a tampered token can never be
		// mistaken for a merely stale one.
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, Wrap(CodeInvalidToken, "token signature invalid", err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, Wrap(CodeTokenExpired, "token expired", err)
		default:
			return nil, Wrap(CodeInvalidToken, "token malformed or tampered", err)
		}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, E(CodeInvalidToken, "token claims invalid")
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.Kind == "" {
		return nil, E(CodeInvalidToken, "token missing required claims")
	}
	return claims, nil
}

// DecodeUnverified parses claims without verifying the signature. Diagnostics
// only; never feed the result into an authorization decision.
func (t *Tokens) DecodeUnverified(raw string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(raw), claims); err != nil {
		return nil, Wrap(CodeInvalidToken, "token undecodable", err)
	}
	return claims, nil
}
