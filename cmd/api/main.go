package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"casedesk.org/internal/audit"
	"casedesk.org/internal/auth"
	"casedesk.org/internal/authz"
	"casedesk.org/internal/cases"
	"casedesk.org/internal/casework"
	"casedesk.org/internal/config"
	"casedesk.org/internal/httpapi"
	"casedesk.org/internal/migrate"
	"casedesk.org/internal/obs"
	"casedesk.org/internal/store/pg"
	"casedesk.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

type stores struct {
	cases cases.Repository
	users auth.UserStore
	audit audit.Store
	ready []httpapi.Pinger
	close func()
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	if !cfg.UsesPostgres() {
		obs.Logger().Warn("CASEDESK_PG_DSN not set, using in-memory stores")
		return stores{
			cases: cases.NewInMemory(),
			users: auth.NewInMemoryUsers(),
			audit: audit.NewInMemory(),
			close: func() {},
		}, nil
	}
	db, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return stores{}, err
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return stores{}, err
	}
	mgr, err := migrate.NewManager(db.DB(), pg.Migrations())
	if err != nil {
		_ = db.Close()
		return stores{}, err
	}
	applied, err := mgr.Up(ctx)
	if err != nil {
		_ = db.Close()
		return stores{}, err
	}
	obs.Logger().WithField("applied", applied).Info("schema up to date")
	return stores{
		cases: db.Cases(),
		users: db.Users(),
		audit: db.Audit(),
		ready: []httpapi.Pinger{db},
		close: func() { _ = db.Close() },
	}, nil
}

// bootstrapAdmin creates the configured admin account once.
func bootstrapAdmin(svc *auth.Service, cfg config.Config) error {
	if cfg.AdminUser == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	u, err := svc.CreateUser(ctx, auth.RegisterInput{
		Username: cfg.AdminUser,
		Email:    cfg.AdminEmail,
		Password: cfg.AdminPassword,
	}, auth.RoleAdmin)
	switch {
	case errors.Is(err, auth.ErrAlreadyExists):
		return nil
	case err != nil:
		return err
	}
	obs.Logger().WithField("user_id", u.ID).Info("admin account created")
	return nil
}

func main() {
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	st, err := openStores(startCtx, cfg)
	cancelStart()
	if err != nil {
		log.WithError(err).Fatal("open stores")
	}
	defer st.close()

	var revoker auth.Revoker = auth.NewMemoryRevoker(cfg.RefreshTTL)
	if cfg.UsesRedis() {
		rr, err := auth.NewRedisRevoker(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("connect redis")
		}
		defer rr.Close()
		revoker = rr
		st.ready = append(st.ready, rr)
	}

	bi := obs.BuildInfo{Version: version, Commit: commit, Store: "memory", Revoker: "memory"}
	if cfg.UsesPostgres() {
		bi.Store = "postgres"
	}
	if cfg.UsesRedis() {
		bi.Revoker = "redis"
	}
	obs.InitBuildInfo(bi)

	hub := stream.NewHub[audit.Entry]()
	logs := stream.NewAuditFeed(st.audit, hub)
	rec := audit.NewRecorder(logs, audit.WithTimeout(cfg.AuditTimeout))

	tokens, err := auth.NewTokenService(cfg.AuthSecret, cfg.Issuer, nil)
	if err != nil {
		log.WithError(err).Fatal("token service")
	}
	authSvc, err := auth.NewService(st.users, tokens,
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithRevoker(revoker),
		auth.WithAudit(rec),
	)
	if err != nil {
		log.WithError(err).Fatal("auth service")
	}

	if err := bootstrapAdmin(authSvc, cfg); err != nil {
		log.WithError(err).Fatal("bootstrap admin")
	}

	engine := authz.NewEngine()
	caseSvc, err := casework.NewService(st.cases, st.users, logs,
		casework.WithEngine(engine),
		casework.WithRecorder(rec),
	)
	if err != nil {
		log.WithError(err).Fatal("case service")
	}

	probe := httpapi.ReadyProbe{Deps: st.ready}
	api, err := httpapi.New(httpapi.Config{
		Auth:         authSvc,
		Cases:        caseSvc,
		Audit:        rec,
		Guard:        authz.NewGuard(engine, rec),
		Feed:         hub,
		Ready:        probe,
		Version:      version,
		CORSOrigins:  cfg.CORSOrigins,
		RateBurst:    cfg.RateBurst,
		RatePerSec:   cfg.RatePerSec,
		MaxBodyBytes: cfg.MaxBody,
	})
	if err != nil {
		log.WithError(err).Fatal("http api")
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	// ends open audit streams so Shutdown does not wait on them
	srv.RegisterOnShutdown(cancelBase)

	grpcSrv := grpc.NewServer()
	httpapi.NewGRPCHealth(probe, version).Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.WithError(err).Fatal("grpc listen")
	}

	go func() {
		log.WithField("addr", srv.Addr).WithField("version", version).Info("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http listen")
		}
	}()
	go func() {
		log.WithField("addr", cfg.GRPCAddr).Info("grpc health server starting")
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.WithError(err).Error("grpc serve")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	grpcSrv.GracefulStop()
	log.Info("stopped")
}
