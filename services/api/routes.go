package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"donatrack/pkg/telemetry"
)

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	allowed := a.config.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware(a.log, a.config.ServiceName))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", a.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.LimitByIP(a.config.RateLimitPerMinute, time.Minute))
		r.Use(middleware.Timeout(a.config.RequestTimeout))

		r.With(httprate.LimitByIP(loginRateLimit, time.Minute)).Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)

			r.Get("/auth/me", a.handleMe)

			r.Route("/donations", func(r chi.Router) {
				r.Get("/", a.handleListDonations)
				r.Post("/", a.handleCreateDonation)
				r.Get("/deleted", a.handleListDeletedDonations)
				r.Get("/{id}", a.handleGetDonation)
				r.Patch("/{id}", a.handleUpdateDonation)
				r.Delete("/{id}", a.handleDeleteDonation)
				r.Post("/{id}/restore", a.handleRestoreDonation)
			})

			r.Route("/categories", func(r chi.Router) {
				r.Get("/", a.handleListCategories)
				r.Post("/", a.handleCreateCategory)
				r.Patch("/{id}", a.handleUpdateCategory)
				r.Post("/{id}/toggle", a.handleToggleCategory)
				r.Delete("/{id}", a.handleDeleteCategory)
			})

			r.Route("/users", func(r chi.Router) {
				r.Get("/", a.handleListUsers)
				r.Post("/", a.handleCreateUser)
				r.Patch("/{id}", a.handleUpdateUser)
			})

			r.Get("/audit", a.handleQueryAudit)
			r.Get("/audit/stats", a.handleAuditStats)

			r.Route("/analytics", func(r chi.Router) {
				r.Get("/dashboard", a.handleDashboard)
				r.Get("/insights", a.handleInsights)
				r.Get("/timeseries", a.handleTimeSeries)
				r.Get("/categories", a.handleCategoryBreakdown)
				r.Get("/operators", a.handleOperatorPerformance)
				r.Get("/donors", a.handleTopDonors)
			})

			r.Post("/reports/donations", a.handleExportDonations)
		})
	})

	return r, nil
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.ready(ctx); err != nil {
		a.log.Warn().Err(err).Msg("readiness check failed")
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
