// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

// Package api provides the HTTP surface of the dashboard backend: route
// wiring, the JSON response envelope, and the endpoint handlers.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/socialscope/scopeboard/internal/auth"
	"github.com/socialscope/scopeboard/internal/config"
	"github.com/socialscope/scopeboard/internal/metrics"
	"github.com/socialscope/scopeboard/internal/middleware"
)

// Router assembles the full route tree.
type Router struct {
	handler *Handler
	authn   *auth.Authenticator
	cfg     *config.Config
}

// NewRouter builds a router over the handler set.
func NewRouter(h *Handler, authn *auth.Authenticator, cfg *config.Config) *Router {
	return &Router{handler: h, authn: authn, cfg: cfg}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// ========================
	// Global Middleware Stack
	// ========================
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   router.cfg.Security.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// ========================
	// Health & Observability
	// ========================
	// Permissive rate limit so uptime monitors can poll freely.
	r.Group(func(r chi.Router) {
		r.Use(limitByIP(1000, time.Minute))
		r.Get("/health", router.handler.Health)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)

		// ========================
		// Self-Credentialed Endpoints
		// ========================
		// Each of these carries its own credential: the scheduler secret,
		// the signed download token, or the empty-registry gate for admin
		// init. No session token required.
		r.Group(func(r chi.Router) {
			r.Use(limitByIP(60, time.Minute))

			r.Post("/scheduler/refresh-cache", router.handler.SchedulerRefreshCache)
			r.Get("/export/download", router.handler.DownloadExport)
			r.Post("/admin/init", router.handler.InitAdmin)
		})

		// ========================
		// Dashboard Endpoints
		// ========================
		r.Group(func(r chi.Router) {
			r.Use(router.rateLimit())
			r.Use(router.authn.Authenticate)

			r.Get("/participants", router.handler.Participants)
			r.Get("/overall_status", router.handler.OverallStatus)
			r.Get("/cache/status", router.handler.CacheStatus)
			r.Get("/safety-alerts", router.handler.SafetyAlerts)

			r.Route("/participant/{participantID}", func(r chi.Router) {
				r.Get("/summary", router.handler.ParticipantSummary)
				r.Get("/day/{date}", router.handler.ParticipantDay)
			})

			// Exports are resource intensive; keep the trigger rate low.
			r.Route("/export", func(r chi.Router) {
				r.Get("/estimate", router.handler.ExportEstimate)
				r.With(limitByIP(10, time.Minute)).Post("/async", router.handler.StartAsyncExport)
				r.Get("/jobs", router.handler.ExportJobs)
				r.Get("/jobs/{jobID}", router.handler.ExportJobStatus)
				r.Delete("/jobs/{jobID}", router.handler.CancelExportJob)
			})

			// ========================
			// Admin Endpoints
			// ========================
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.IPAllowlist(router.cfg.Security.AllowedCIDRs))
				r.Use(router.authn.RequireAdmin)

				r.Post("/refresh-cache", router.handler.RefreshCache)
				r.Post("/safety-alerts/refresh", router.handler.RefreshSafetyAlerts)

				r.Route("/users", func(r chi.Router) {
					r.Get("/", router.handler.ListUsers)
					r.Post("/", router.handler.AddUser)
					r.Put("/{email}", router.handler.UpdateUserRole)
					r.Delete("/{email}", router.handler.RemoveUser)
				})

				r.Route("/alert-recipients", func(r chi.Router) {
					r.Get("/", router.handler.ListAlertRecipients)
					r.Post("/", router.handler.AddAlertRecipient)
					r.Delete("/{phone}", router.handler.RemoveAlertRecipient)
				})
			})
		})
	})

	return r
}

// rateLimit builds the per-IP limiter for dashboard endpoints from config.
// Disabled limiting (used in tests) is a pass-through.
func (router *Router) rateLimit() func(http.Handler) http.Handler {
	sec := router.cfg.Security
	if sec.RateLimitDisabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return limitByIP(sec.RateLimitReqs, sec.RateLimitWindow)
}

// limitByIP is httprate.LimitByIP with every rejection counted per endpoint.
func limitByIP(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.APIRateLimitHits.WithLabelValues(r.URL.Path).Inc()
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
}
