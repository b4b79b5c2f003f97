package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/medaccess/pkg/httpserver"
	"github.com/dmitrymomot/medaccess/pkg/logger"
	"github.com/dmitrymomot/medaccess/pkg/mongo"
	"github.com/dmitrymomot/medaccess/pkg/netgate"
	"github.com/dmitrymomot/medaccess/pkg/pg"
	"github.com/dmitrymomot/medaccess/pkg/redis"
	"github.com/dmitrymomot/medaccess/pkg/requestid"
	"github.com/dmitrymomot/medaccess/svc/access"
)

func (a *app) serve(ctx context.Context) error {
	extractIP, err := a.ipExtractor()
	if err != nil {
		return err
	}
	e, err := a.engine(ctx,
		access.WithUserIDExtractor(headerUserID(a.cfg.UserIDHeader)),
		access.WithIPExtractor(extractIP),
	)
	if err != nil {
		return err
	}

	checks := map[string]httpserver.Check{"postgres": pg.Healthcheck(a.pool)}
	if a.redis != nil {
		checks["redis"] = redis.Healthcheck(a.redis)
	}
	if a.mongo != nil {
		checks["mongo"] = mongo.Healthcheck(a.mongo)
	}

	h := router(e, a.log, checks, a.cfg.QueryPermission, a.cfg.AuditPermission)
	srv := httpserver.New(a.cfg.HTTP, httpserver.WithLogger(a.log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx, h) })
	g.Go(func() error {
		if err := e.RunSweeper(ctx, a.cfg.SweepInterval); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return g.Wait()
}

func headerUserID(name string) func(*http.Request) (string, bool) {
	return func(r *http.Request) (string, bool) {
		id := strings.TrimSpace(r.Header.Get(name))
		return id, id != ""
	}
}

// router mounts the probes and the /v1 API. Every /v1 route needs an
// identified caller: access queries require queryPermission and audit
// routes auditPermission.
func router(e *access.Engine, log *slog.Logger, checks map[string]httpserver.Check, queryPermission, auditPermission string) http.Handler {
	h := &handlers{engine: e, log: log}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Get("/healthz", httpserver.Liveness())
	r.Get("/readyz", httpserver.Readiness(log, checks))

	r.Route("/v1", func(r chi.Router) {
		r.With(e.RequirePermission(queryPermission)).Post("/authorize", h.authorize)
		r.With(e.RequirePermission(queryPermission)).Get("/users/{userID}/permissions", h.permissions)
		r.With(e.RequirePermission(auditPermission)).Get("/audit/verify", h.verifyAudit)
	})
	return r
}

type handlers struct {
	engine *access.Engine
	log    *slog.Logger
}

type authorizeRequest struct {
	UserID     string `json:"user_id"`
	Permission string `json:"permission"`
	IP         string `json:"ip"` // defaults to the caller's origin
}

type authorizeResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func (h *handlers) authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.IP == "" {
		req.IP = h.engine.ClientIP(r)
	}

	ctx := netgate.WithClientIP(r.Context(), req.IP)
	d, err := h.engine.Authorize(ctx, req.UserID, req.Permission, req.IP)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authorizeResponse{Allowed: d.Allowed, Reason: d.PublicReason()})
}

func (h *handlers) permissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.engine.EffectivePermissions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *handlers) verifyAudit(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.AuditLog().Verify(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"intact": true})
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if verr, ok := access.IsValidationError(err); ok {
		writeError(w, http.StatusBadRequest, verr.Error())
		return
	}
	h.log.ErrorContext(r.Context(), "request failed", logger.Component("accessctl"), logger.Error(err))
	writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
