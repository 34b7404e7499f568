// Package httpapi exposes the case desk over JSON/HTTP and health over gRPC.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"casedesk.org/internal/audit"
	"casedesk.org/internal/auth"
	"casedesk.org/internal/authz"
	"casedesk.org/internal/casework"
	"casedesk.org/internal/obs"
	"casedesk.org/internal/stream"
)

const serviceName = "casedesk-api"

const (
	actionListUsers   = "LIST_USERS"
	actionStreamAudit = "STREAM_AUDIT_LOGS"
)

// Pinger is a dependency probed by readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe pings every configured dependency.
type ReadyProbe struct {
	Deps []Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	for _, d := range rp.Deps {
		if d == nil {
			continue
		}
		if err := d.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ReadinessChecker backs /readyz and the gRPC health service.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// Config collects the collaborators and limits of the HTTP layer.
type Config struct {
	Auth    *auth.Service
	Cases   *casework.Service
	Audit   *audit.Recorder
	Guard   *authz.Guard
	Feed    *stream.Hub[audit.Entry]
	Ready   ReadinessChecker
	Version string

	CORSOrigins  []string
	RateBurst    int
	RatePerSec   int
	MaxBodyBytes int64
}

// API is the HTTP layer.
type API struct {
	auth    *auth.Service
	cases   *casework.Service
	guard   *authz.Guard
	audit   *audit.Recorder
	feed    *stream.Hub[audit.Entry]
	ready   ReadinessChecker
	version string

	corsOrigins []string
	rateBurst   int
	ratePerSec  int
	maxBody     int64
}

// New validates cfg and builds the API.
func New(cfg Config) (*API, error) {
	if cfg.Auth == nil {
		return nil, errors.New("httpapi: auth service is nil")
	}
	if cfg.Cases == nil {
		return nil, errors.New("httpapi: case service is nil")
	}
	a := &API{
		auth:        cfg.Auth,
		cases:       cfg.Cases,
		guard:       cfg.Guard,
		audit:       cfg.Audit,
		feed:        cfg.Feed,
		ready:       cfg.Ready,
		version:     cfg.Version,
		corsOrigins: cfg.CORSOrigins,
		rateBurst:   cfg.RateBurst,
		ratePerSec:  cfg.RatePerSec,
		maxBody:     cfg.MaxBodyBytes,
	}
	if a.guard == nil {
		a.guard = authz.NewGuard(authz.NewEngine(), cfg.Audit)
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	return a, nil
}

// Handler builds the router with the full middleware chain.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, LoggingJSON, SecurityHeaders, CORS(a.corsOrigins))
	r.Use(func(next http.Handler) http.Handler { return RateLimit(next, a.rateBurst, a.ratePerSec) })
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBody) })
	r.Use(obs.Instrument)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/register", a.handleRegister)
		r.Post("/auth/login", a.handleLogin)
		r.Post("/auth/refresh", a.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)

			r.Post("/auth/logout", a.handleLogout)
			r.Get("/auth/me", a.handleMe)

			r.Get("/cases", a.handleListCases)
			r.Post("/cases", a.handleCreateCase)
			r.Get("/cases/{id}", a.handleGetCase)
			r.Patch("/cases/{id}", a.handleUpdateCase)
			r.Delete("/cases/{id}", a.handleDeleteCase)

			r.Get("/users", a.handleListUsers)
			r.Get("/me/permissions", a.handleMyPermissions)

			r.Route("/admin", func(r chi.Router) {
				r.With(a.requirePermission(authz.ManageUsers, actionListUsers)).
					Get("/users", a.handleAdminListUsers)
				// the service gates and audits these itself
				r.Get("/users/{id}/permissions", a.handleUserPermissions)
				r.Get("/audit-logs", a.handleAuditLogs)
				r.Get("/cases", a.handleAdminListCases)
				r.With(a.requirePermission(authz.ViewAuditLogs, actionStreamAudit)).
					Get("/audit-logs/stream", a.handleAuditStream)
			})
		})
	})
	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
