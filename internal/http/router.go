package http

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/epass/server/internal/auth"
	"github.com/epass/server/internal/http/handlers"
	"github.com/epass/server/internal/middleware"
)

// Handlers groups the endpoint handlers mounted by NewRouter
type Handlers struct {
	Health       *handlers.HealthHandler
	Checkin      *handlers.CheckinHandler
	Registration *handlers.RegistrationHandler
}

// LookupLimit bounds confirmation-code lookups per client IP
type LookupLimit struct {
	Limiter *middleware.RateLimiter
	Limit   int
	Window  time.Duration
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(h Handlers, jwtService *auth.JWTService, lookup LookupLimit) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", h.Health.ServeHTTP)

	// Protected routes (require valid staff JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtService))

		r.Route("/checkin", func(r chi.Router) {
			r.Post("/verify", h.Checkin.HandleVerify)
			r.Get("/delta", h.Checkin.HandleDelta)
		})

		r.Route("/registrations", func(r chi.Router) {
			r.Post("/{id}/confirm", h.Registration.HandleConfirm)
			r.Post("/{id}/cancel", h.Registration.HandleCancel)
			r.With(middleware.RateLimitMiddleware(lookup.Limiter, lookup.Limit, lookup.Window, middleware.GetIPKey)).
				Get("/by-code/{code}", h.Registration.HandleLookup)
		})
	})

	return r
}
