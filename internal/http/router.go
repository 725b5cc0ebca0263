package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/iago/risk-reanalysis/internal/http/handlers"
	"github.com/iago/risk-reanalysis/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         zerolog.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter builds the HTTP surface. ctx bounds background work owned by the
// middleware chain.
func NewRouter(ctx context.Context, deps RouterDependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.Recoverer,
		middleware.Trace(deps.Logger),
		middleware.CORS(middleware.CORSConfig{AllowedOrigins: deps.CORSOrigins}),
		middleware.RateLimit(ctx, deps.RateLimitRPS, deps.RateLimitBurst),
		middleware.Auth(deps.AuthToken),
	)
	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	r.Get("/healthz", deps.API.Health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", deps.API.CreateJob)
		r.Get("/jobs", deps.API.ListJobs)
		r.Get("/jobs/{jobID}", deps.API.JobStatus)
		r.Post("/events", deps.API.PublishEvent)
		r.Post("/queue/drain", deps.API.DrainQueue)
	})

	return r
}
