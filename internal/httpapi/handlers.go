// Package httpapi is the HTTP surface of the authentication core: the
// session middleware, RBAC middleware, and the login/refresh handlers.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"carbontrace.io/internal/audit"
	"carbontrace.io/internal/auth"
	"carbontrace.io/internal/obs"
)

// ReadyProbe reports backing-store readiness for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options tunes the API shell.
type Options struct {
	Version    string
	Production bool

	RequestTimeout     time.Duration
	MaxBodyBytes       int64
	RateLimitPerSecond int
	RateLimitBurst     int
}

// API wires handlers and middleware over a ServeMux.
type API struct {
	mux        *http.ServeMux
	auth       *auth.Service
	sink       audit.Sink
	readyProbe ReadyProbe
	opts       Options
}

// New assembles the route table. The auth service and audit sink are
// injected; nothing is constructed at import time.
func New(authSvc *auth.Service, sink audit.Sink, rp ReadyProbe, opts Options) *API {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		mux:        http.NewServeMux(),
		auth:       authSvc,
		sink:       sink,
		readyProbe: rp,
		opts:       opts,
	}

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReady)
	a.mux.HandleFunc("/v1/info", a.handleInfo)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.Handle("/v1/auth/me", a.requireAuth(http.HandlerFunc(a.handleWhoami)))
	a.mux.Handle("/v1/auth/logout", a.requireAuth(http.HandlerFunc(a.handleLogout)))
	a.mux.Handle("/v1/auth/token/inspect", a.requireAuth(
		a.RequireRole("SUPERADMIN")(http.HandlerFunc(a.handleTokenInspect))))
	a.mux.Handle("/v1/auth/lockout", a.requireAuth(
		a.RequireRole("SUPERADMIN")(http.HandlerFunc(a.handleLockoutStatus))))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	if a.opts.RateLimitPerSecond > 0 {
		h = RateLimit(h, a.opts.RateLimitBurst, a.opts.RateLimitPerSecond)
	}
	h = SecurityHeaders(h)
	h = CORS(h)
	h = Logging(h)
	h = RequestID(h)
	h = http.TimeoutHandler(h, a.opts.RequestTimeout, `{"success":false,"error_code":"AUTH_SYSTEM_ERROR","error_message":"request timed out"}`)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "carbontrace-auth",
		"version": a.opts.Version,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "carbontrace-auth",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}
