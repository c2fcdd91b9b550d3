package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/DLMCQ/DermaClinic/internal/auth"
	"github.com/DLMCQ/DermaClinic/internal/clinic"
)

type RouterConfig struct {
	Cloud   bool
	Env     string
	Version string

	Auth   *auth.Service
	Clinic *clinic.Service
	// Guard overrides the mode default (token guard in cloud mode, bypass in local mode).
	Guard auth.Guard

	Storage     Pinger
	Redis       *redis.Client
	CORSOrigins []string
	// Verbose echoes internal error messages to clients.
	Verbose bool
	Log     *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	errs := errorMapper{log: log, verbose: cfg.Verbose}

	guard := cfg.Guard
	if guard == nil {
		if cfg.Cloud {
			guard = auth.NewTokenGuard(cfg.Auth.Tokens(), errs.write, log)
		} else {
			guard = auth.BypassGuard{}
		}
	}

	h := &handlers{auth: cfg.Auth, clinic: cfg.Clinic, errs: errs}
	mode := "local"
	if cfg.Cloud {
		mode = "cloud"
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(log))
	r.Use(MetricsMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints
	health := NewHealthHandler(cfg.Storage, cfg.Redis, mode, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	cloudOnly := func(next http.Handler) http.Handler {
		if cfg.Cloud {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "not_available_in_local_mode", "this endpoint is only available in cloud mode")
		})
	}
	admin := guard.RequireRole(auth.RoleAdmin)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", health.Status)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.login)
			r.Post("/refresh", h.refresh)
			r.Post("/logout", h.logout)
			r.With(guard.Required).Get("/me", h.me)
		})

		r.Group(func(r chi.Router) {
			r.Use(guard.Required)

			r.Route("/patients", func(r chi.Router) {
				r.Get("/", h.listPatients)
				r.Post("/", h.createPatient)
				r.Get("/{id}", h.getPatient)
				r.Put("/{id}", h.updatePatient)
				r.Patch("/{id}", h.updatePatient)
				r.Delete("/{id}", h.deletePatient)
				r.Get("/{id}/sessions", h.listSessions)
			})

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", h.listSessions)
				r.Post("/", h.createSession)
				r.Get("/{id}", h.getSession)
				r.Put("/{id}", h.updateSession)
				r.Patch("/{id}", h.updateSession)
				r.Delete("/{id}", h.deleteSession)
			})

			r.Route("/appointments", func(r chi.Router) {
				r.Use(cloudOnly)
				r.Get("/", h.listAppointments)
				r.Post("/", h.createAppointment)
				r.Get("/{id}", h.getAppointment)
				r.Put("/{id}", h.updateAppointment)
				r.Patch("/{id}", h.updateAppointment)
				r.Patch("/{id}/complete", h.completeAppointment)
				r.Patch("/{id}/cancel", h.cancelAppointment)
				r.Delete("/{id}", h.deleteAppointment)
			})

			r.Route("/users", func(r chi.Router) {
				r.Use(cloudOnly)
				r.With(admin).Get("/", h.listUsers)
				r.With(admin).Post("/", h.createUser)
				r.Get("/{id}", h.getUser)
				r.Put("/{id}", h.updateUser)
				r.With(admin).Delete("/{id}", h.deactivateUser)
				r.With(admin).Patch("/{id}/activate", h.activateUser)
			})

			r.Route("/dashboard", func(r chi.Router) {
				r.Get("/stats", h.stats)
				r.Get("/stats/range", h.rangeStats)
				r.Get("/activity", h.activity)
			})
		})
	})

	return r
}
