// Package router wires the control API endpoints onto a chi mux.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/geomarkapp/geomark/internal/handler"
	"github.com/geomarkapp/geomark/internal/middleware"
)

// Config holds the configuration for creating a router.
type Config struct {
	Landmarks *handler.LandmarkHandler
	Sync      *handler.SyncHandler
	Health    *handler.HealthHandler
	WS        http.HandlerFunc
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/api/status", cfg.Sync.Status)

	if cfg.WS != nil {
		r.Get("/ws", cfg.WS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", cfg.Health.Health)

		r.Route("/landmarks", func(r chi.Router) {
			r.Get("/", cfg.Landmarks.List)
			r.Post("/", cfg.Landmarks.Create)
			r.Get("/{id}", cfg.Landmarks.Get)
			r.Put("/{id}", cfg.Landmarks.Update)
			r.Delete("/{id}", cfg.Landmarks.Delete)
		})

		r.Post("/sync", cfg.Sync.TriggerSync)

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", cfg.Sync.ListQueue)
			r.Post("/{id}/retry", cfg.Sync.RetryAction)
			r.Delete("/{id}", cfg.Sync.DiscardAction)
		})
	})

	return r
}
