package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/telemedicine-scheduling/internal/recurring"
	"github.com/hackgods/telemedicine-scheduling/internal/scheduling"
	"github.com/hackgods/telemedicine-scheduling/internal/waitlist"
)

type RouterConfig struct {
	Controller *scheduling.Controller
	Generator  *recurring.Generator
	Matcher    *waitlist.Matcher
	Postgres   Pinger
	Redis      Pinger
	// Gatherer backs /metrics; the route is omitted when nil.
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/slots", func(r chi.Router) {
		r.Get("/", listSlotsHandler(cfg.Controller))
		r.Get("/{id}", getSlotHandler(cfg.Controller))
	})

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", createBookingHandler(cfg.Controller))
		r.Get("/{id}", getBookingHandler(cfg.Controller))
		r.Post("/{id}/reschedule", rescheduleBookingHandler(cfg.Controller))
		r.Post("/{id}/cancel", cancelBookingHandler(cfg.Controller))
		r.Post("/{id}/start", startBookingHandler(cfg.Controller))
		r.Post("/{id}/complete", completeBookingHandler(cfg.Controller))
	})

	if cfg.Matcher != nil {
		r.Route("/waitlist", func(r chi.Router) {
			r.Post("/", createWaitlistHandler(cfg.Matcher))
			r.Get("/{id}", getWaitlistHandler(cfg.Matcher))
			r.Get("/{id}/matches", waitlistMatchesHandler(cfg.Matcher))
			r.Post("/{id}/match", attemptMatchHandler(cfg.Matcher))
			r.Post("/{id}/cancel", cancelWaitlistHandler(cfg.Matcher))
		})
	}

	if cfg.Generator != nil {
		r.Route("/series", func(r chi.Router) {
			r.Post("/", createSeriesHandler(cfg.Generator))
			r.Get("/{id}", getSeriesHandler(cfg.Generator))
			r.Post("/{id}/pause", seriesStatusHandler(cfg.Generator.Pause))
			r.Post("/{id}/resume", seriesStatusHandler(cfg.Generator.Resume))
			r.Post("/{id}/cancel", cancelSeriesHandler(cfg.Generator))
			r.Post("/{id}/skip-dates", addSkipDateHandler(cfg.Generator))
			r.Post("/{id}/generate", generateNextHandler(cfg.Generator))
		})
	}

	return r
}
