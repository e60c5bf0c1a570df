package router

import (
	"net/http"

	"microhub-redistribution-api/internal/handler"
	"microhub-redistribution-api/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router. Nil handlers leave their
// routes unregistered.
type Config struct {
	Handler               *handler.Handler
	RedistributionHandler *handler.RedistributionHandler
	RetryHandler          *handler.RetryHandler
	BuyerHandler          *handler.BuyerHandler
	InventoryHandler      *handler.InventoryHandler
	AdminHandler          *handler.AdminHandler
	AuthMiddleware        func(http.Handler) http.Handler
	AllowedOrigins        []string
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// PUBLIC routes (no auth required)
	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
		r.Get("/api/v1/health", cfg.Handler.Health)
		r.Get("/api/v1/ready", cfg.Handler.Ready)
	}

	// AUTHENTICATED routes
	r.Group(func(r chi.Router) {
		if cfg.AuthMiddleware != nil {
			r.Use(cfg.AuthMiddleware)
		}

		r.Route("/api/v1", func(r chi.Router) {
			if h := cfg.RedistributionHandler; h != nil {
				r.Route("/redistribution", func(r chi.Router) {
					r.Post("/runs", h.CreateRun)
					r.Get("/runs", h.ListRuns)
					r.Get("/runs/{run_id}", h.GetRun)
					r.Get("/upcoming", h.Upcoming)
				})
			}

			if h := cfg.RetryHandler; h != nil {
				r.Route("/retry-queue", func(r chi.Router) {
					r.Get("/", h.ListQueue)
					r.Post("/", h.Enqueue)
					r.Post("/pass", h.Pass)
					r.Post("/{sku_id}/retry", h.RetryOne)
					r.Delete("/{sku_id}", h.Remove)
				})
			}

			if h := cfg.BuyerHandler; h != nil {
				r.Route("/buyers", func(r chi.Router) {
					r.Get("/", h.ListBuyers)
					r.Get("/ranked", h.Ranked)
				})
			}

			if h := cfg.InventoryHandler; h != nil {
				r.Route("/inventory", func(r chi.Router) {
					r.Get("/", h.GetInventory)
					r.Post("/", h.UpsertInventory)
				})
			}

			if h := cfg.AdminHandler; h != nil {
				r.Get("/admin/stats", h.GetStats)
			}
		})
	})

	return r
}
