package api

import (
	"net/http"
	"time"

	"slotbook/internal/booking"
	"slotbook/internal/repository"
	"slotbook/internal/slots"
	"slotbook/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type RouterConfig struct {
	Store         *store.Store
	Sessions      *booking.SessionStore
	Storage       repository.Storage // profile keys
	Schedule      slots.Schedule
	UpcomingLimit int
	SubmitLimiter *rate.Limiter
	Now           func() time.Time
	Logger        *zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	h := &handlers{
		store:         cfg.Store,
		sessions:      cfg.Sessions,
		storage:       cfg.Storage,
		schedule:      cfg.Schedule,
		upcomingLimit: cfg.UpcomingLimit,
		slots:         slots.NewGenerator(cfg.Store, cfg.Now),
		now:           cfg.Now,
		logger:        cfg.Logger,
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/appointments", h.history)
		r.Get("/appointments/upcoming", h.upcoming)
		r.Get("/appointments/{id}", h.getAppointment)
		r.Delete("/appointments/{id}", h.cancelAppointment)

		r.Get("/blocked-dates", h.blockedDates)
		r.Put("/blocked-dates/{date}", h.blockDate)
		r.Delete("/blocked-dates/{date}", h.unblockDate)

		r.Get("/slots/{date}", h.daySlots)

		r.Get("/profile", h.getProfile)
		r.Put("/profile", h.putProfile)

		r.Get("/admin/export.xlsx", h.exportWorkbook)

		r.Post("/sessions", h.createSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Delete("/", h.deleteSession)
			r.Get("/slots", h.sessionSlots)
			r.Put("/date", h.chooseDate)
			r.Put("/time", h.chooseTime)
			r.Put("/details", h.setDetails)
			r.Put("/mode", h.setMode)
			r.Post("/reset", h.resetSession)
			r.With(RateLimitMiddleware(cfg.SubmitLimiter)).Post("/submit", h.submit)
		})
	})

	return r
}
