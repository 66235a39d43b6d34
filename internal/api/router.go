package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/rating"
)

type RouterConfig struct {
	Bookings  *appointment.Service
	Ratings   *rating.Service
	Auth      *auth.Parser
	Health    *HealthHandler
	RateRPS   float64
	RateBurst int
	Log       zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(middleware.Recoverer)

	health := cfg.Health
	if health == nil {
		health = NewHealthHandler(nil, nil, "", "")
	}
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/ratings", listRatingsHandler(cfg.Ratings))

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth))

		r.Get("/doctors/{doctorID}/time-blocks", listTimeBlocksHandler(cfg.Bookings))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Bookings))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleDoctor, auth.RoleCollaborator, auth.RoleAdmin))
			r.Post("/doctors/{doctorID}/time-blocks", createTimeBlockHandler(cfg.Bookings))
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleDoctor, auth.RoleCollaborator))
			r.Delete("/time-blocks/{id}", deleteTimeBlockHandler(cfg.Bookings))
			r.Post("/doctor/appointments/{id}/cancel", cancelByDoctorHandler(cfg.Bookings))
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RolePatient))
			r.With(RateLimit(cfg.RateRPS, cfg.RateBurst)).Post("/appointments", createAppointmentHandler(cfg.Bookings))
			r.Post("/appointments/{id}/cancel", cancelByPatientHandler(cfg.Bookings))
			r.Post("/appointments/{id}/feedback", submitFeedbackHandler(cfg.Ratings))
		})

		r.With(auth.RequireRole(auth.RoleAdmin)).Delete("/admin/doctors/{id}", deleteDoctorHandler(cfg.Bookings, cfg.Ratings))
	})

	return r
}
