// Command api runs the authentication service: login and token endpoints,
// the session and RBAC middleware, and the operational surface around them.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"carbontrace.io/internal/audit"
	"carbontrace.io/internal/auth"
	"carbontrace.io/internal/config"
	"carbontrace.io/internal/httpapi"
	"carbontrace.io/internal/obs"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		obs.Error("configuration invalid", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		obs.Error("database open failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		obs.Warn("database unreachable at startup", map[string]any{"error": err.Error()})
	}
	cancelPing()

	tokens, err := auth.NewTokens(cfg.JWTSecret,
		auth.WithIssuer(cfg.Issuer),
		auth.WithAudience(cfg.Audience),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		obs.Error("token service init failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	events := auth.NewPGLoginEvents(db)
	limiter := auth.NewLimiter(events,
		auth.WithThreshold(cfg.LockoutThreshold),
		auth.WithWindow(cfg.LockoutWindow),
	)

	dispatcher := audit.NewDispatcher(audit.NewPGSink(db), 256)
	defer dispatcher.Close()

	svc, err := auth.NewService(auth.NewPGDirectory(db), events, tokens, limiter,
		auth.WithBcryptCost(cfg.BcryptCost),
		auth.WithAuditSink(dispatcher),
	)
	if err != nil {
		obs.Error("auth service init failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	api := httpapi.New(svc, dispatcher, httpapi.ReadyProbe{DB: db}, httpapi.Options{
		Version:            version,
		Production:         cfg.Production(),
		RequestTimeout:     cfg.RequestTimeout,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		obs.Info("server listening", map[string]any{
			"addr":        cfg.Addr,
			"environment": cfg.Environment,
			"version":     version,
		})
		errCh <- srv.ListenAndServe()
	}()
	obs.SetReady(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		obs.Info("shutting down", map[string]any{"signal": sig.String()})
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.Error("server failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	}

	obs.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obs.Error("graceful shutdown failed", map[string]any{"error": err.Error()})
	}
	if dropped := dispatcher.Dropped(); dropped > 0 {
		obs.Warn("audit events dropped over lifetime", map[string]any{"count": dropped})
	}
}
